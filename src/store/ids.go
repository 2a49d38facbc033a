package store

import (
	"fmt"
	"time"

	gonanoid "github.com/jaevor/go-nanoid"
)

var randomSuffix = func() func() string {
	gen, err := gonanoid.CustomASCII("0123456789abcdefghijklmnopqrstuvwxyz", 7)
	if err != nil {
		panic(err)
	}
	return gen
}()

// NewID returns "<unix millis>-<7 base36 chars>". Unique, but only roughly
// ordered across machines.
func NewID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), randomSuffix())
}
