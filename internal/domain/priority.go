package domain

type Priority int

const (
	PriorityNone      Priority = -1
	PriorityLow       Priority = 0
	PriorityNormal    Priority = 1
	PriorityReadahead Priority = 2 // within the lookahead window
	PriorityNext      Priority = 3 // pieces needed very soon
	PriorityHigh      Priority = 4 // pieces needed right now
)
