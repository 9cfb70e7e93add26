package app

import (
	"os"
	"strconv"
	"sync"
)

// testModeEnv is set by the testing package; binaries started under it skip
// connecting to Postgres, Redis and the job broker.
const testModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	return on
})

// InTestMode reports whether ODYSSEY_TEST_MODE holds a true value. The
// variable is read once per process.
func InTestMode() bool {
	return testMode()
}
