package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/piavik/PhotoShare/internal/models"
)

func TestCheckRole(t *testing.T) {
	tests := []struct {
		role    models.Role
		minimum models.Role
		want    bool
	}{
		{models.RoleUser, models.RoleUser, true},
		{models.RoleModer, models.RoleUser, true},
		{models.RoleAdmin, models.RoleUser, true},
		{models.RoleUser, models.RoleModer, false},
		{models.RoleModer, models.RoleModer, true},
		{models.RoleAdmin, models.RoleModer, true},
		{models.RoleUser, models.RoleAdmin, false},
		{models.RoleModer, models.RoleAdmin, false},
		{models.RoleAdmin, models.RoleAdmin, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CheckRole(tt.role, tt.minimum),
			"role=%s minimum=%s", tt.role, tt.minimum)
	}
}

func TestCheckRole_UnknownRole(t *testing.T) {
	assert.False(t, CheckRole(models.Role("root"), models.RoleAdmin))
	assert.False(t, CheckRole(models.RoleAdmin, models.Role("root")))
}
