package utils

// PanicIfNeeded panics on a non-nil error so the Recovery middleware can map
// it to an HTTP response. Typed errors keep their status code; everything
// else becomes a 500.
func PanicIfNeeded(err any, message ...string) {
	if err == nil {
		return
	}
	if len(message) > 0 {
		panic(message[0])
	}
	panic(err)
}
