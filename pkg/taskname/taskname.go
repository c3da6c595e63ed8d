package taskname

const (
	// Cashout tasks
	CashoutProcess    = "cashout:process"
	CashoutStaleSweep = "cashout:stale:sweep"

	// Treasury tasks
	TreasuryHealthSnapshot = "treasury:health:snapshot"
)
