package session

// BackoffForAttempt returns the backoff in seconds after the given attempt
// number (1-based): initial on the first attempt, doubling each subsequent
// attempt, bounded at cap. With the defaults (5s initial, 300s cap) the
// schedule is 5, 10, 20, 40, 80, 160, 300, 300, ...
func BackoffForAttempt(attempt, initialSeconds, capSeconds int) int {
	if attempt < 1 {
		attempt = 1
	}
	backoff := initialSeconds
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= capSeconds {
			return capSeconds
		}
	}
	if backoff > capSeconds {
		return capSeconds
	}
	return backoff
}
