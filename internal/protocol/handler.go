package protocol

import "fmt"

// Handler names the host-side callback an envelope is routed to.
type Handler int

const (
	HandlerUnknown Handler = iota
	HandlerUpdateProgress
	HandlerShowProgress
	HandlerHideProgress
	HandlerDeterminateProgress
	HandlerIndeterminateProgress
	HandlerClearStatus
	HandlerGetStatus
	HandlerSetStatus
	HandlerSetting
)

var handlerNames = map[Handler]string{
	HandlerUnknown:               "unknown",
	HandlerUpdateProgress:        "update_progress",
	HandlerShowProgress:          "show_progress",
	HandlerHideProgress:          "hide_progress",
	HandlerDeterminateProgress:   "determinate_progress",
	HandlerIndeterminateProgress: "indeterminate_progress",
	HandlerClearStatus:           "clear_status",
	HandlerGetStatus:             "get_status",
	HandlerSetStatus:             "set_status",
	HandlerSetting:               "setting",
}

func (h Handler) String() string {
	if name, ok := handlerNames[h]; ok {
		return name
	}
	return fmt.Sprintf("handler(%d)", int(h))
}

var progressSetHandlers = map[string]Handler{
	"show":          HandlerShowProgress,
	"hide":          HandlerHideProgress,
	"determinate":   HandlerDeterminateProgress,
	"indeterminate": HandlerIndeterminateProgress,
}

// Route picks the handler for an envelope.
//
//	progress + percent    -> update_progress
//	progress + set=<mode> -> <mode>_progress
//	status   + set=clear  -> clear_status
//	status   + set=get    -> get_status
//	status   + other      -> set_status
//	setting               -> setting
//
// setting and status are routed on type alone so that a malformed get still
// reaches a handler and gets its reply.
func Route(env Envelope) (Handler, error) {
	switch env.Type {
	case TypeProgress:
		if _, ok := env.Data["percent"]; ok {
			return HandlerUpdateProgress, nil
		}
		if set, ok := env.Data["set"].(string); ok {
			if h, ok := progressSetHandlers[set]; ok {
				return h, nil
			}
			return HandlerUnknown, fmt.Errorf("%w: progress set %q", ErrUnknownType, set)
		}
	case TypeStatus:
		set, _ := env.Data["set"].(string)
		switch set {
		case "clear":
			return HandlerClearStatus, nil
		case "get":
			return HandlerGetStatus, nil
		default:
			return HandlerSetStatus, nil
		}
	case TypeSetting:
		return HandlerSetting, nil
	}
	return HandlerUnknown, fmt.Errorf("%w: type %q", ErrUnknownType, env.Type)
}
