package offlinecache

// first waits for whichever of a and b delivers a value first.
// It returns the value, whether it came from a, and the channel of the loser,
// which may still deliver later. A nil channel never wins.
func first[T any](a, b <-chan T) (T, bool, <-chan T) {
	select {
	case v := <-a:
		return v, true, b
	case v := <-b:
		return v, false, a
	}
}
