package model

// Status 引擎启动状态
type Status string

const (
	StatusIdle            Status = "idle"
	StatusFetchingSymbols Status = "fetching_symbols"
	StatusLoadingRest     Status = "loading_rest"
	StatusStartingStream  Status = "starting_stream"
	StatusCompleted       Status = "completed"
)
