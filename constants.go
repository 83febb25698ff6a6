package ebpfcore

// Action codes a program returns as its verdict. hooks.MostRestrictive
// keeps the numerically lowest code, so ActionDeny from any one
// program overrides ActionAllow from the others.
const (
	ActionAllow uint32 = 1
	ActionDeny  uint32 = 0
)

// Well-known hook names the supplemented end-to-end scenarios exercise.
const (
	HookXDP         = "xdp"
	HookBindMonitor = "bind"
)
