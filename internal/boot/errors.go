package boot

import "errors"

var (
	ErrArtifactNotFound      = errors.New("boot: artifact not found")
	ErrCommandLineUnreadable = errors.New("boot: kernel command line unreadable")
)
