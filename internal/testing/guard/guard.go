package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("GUARDPOST_TEST_MODE") == "" {
			_ = os.Setenv("GUARDPOST_TEST_MODE", "1")
		}
	})
}
