package service

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// GravatarURL builds the default avatar URL for a new principal. Avatar
// hosting itself is an external collaborator; only the URL is stored.
func GravatarURL(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%x?d=identicon", md5.Sum([]byte(normalized)))
}
