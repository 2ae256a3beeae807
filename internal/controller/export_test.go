package controller

//nolint:gochecknoglobals // test hooks
var (
	NewWatcherFromConfig = newWatcher
	TableReadyCheck      = tableReadyCheck
)
