//go:build !linux

package media

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// NewSession reports that no OS media session exists on this platform
func NewSession(*logrus.Entry) (Session, error) {
	return nil, errors.New("media session not supported on this platform")
}
