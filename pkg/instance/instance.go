package instance

import "github.com/firebase/emulators-codelab/pkg/env"

// GetID identifies the running process in logs: CODELAB_INSTANCE_ID, then
// the Cloud Run revision, then the hostname.
func GetID() string {
	return env.Get("CODELAB_INSTANCE_ID", env.Get("K_REVISION", env.Get("HOSTNAME", "local")))
}
