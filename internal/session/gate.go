package session

// Allow is the metering gate. It runs before every paid completion call.
func Allow(balance, cost int64) bool {
	return balance >= cost
}
