package conversation

// Step names one state of a data-entry flow.
type Step string

const (
	StepAddTitle     Step = "add_title"
	StepAddSecret    Step = "add_secret"
	StepAddPrice     Step = "add_price"
	StepEditTitle    Step = "edit_title"
	StepEditPrice    Step = "edit_price"
	StepAwaitReceipt Step = "await_receipt"
)

// Flow names a whole multi-step interaction.
type Flow string

const (
	FlowAddItem  Flow = "add_item"
	FlowEditItem Flow = "edit_item"
	FlowReceipt  Flow = "receipt"
)

// Flow returns the flow a step belongs to.
func (s Step) Flow() Flow {
	switch s {
	case StepAddTitle, StepAddSecret, StepAddPrice:
		return FlowAddItem
	case StepEditTitle, StepEditPrice:
		return FlowEditItem
	case StepAwaitReceipt:
		return FlowReceipt
	}
	return ""
}

// Session is the state of one user's flow. Each step carries exactly the
// fields collected so far; the set of implementations is closed.
type Session interface {
	Step() Step
	session()
}

type AddTitle struct{}

type AddSecret struct {
	Title string
}

type AddPrice struct {
	Title  string
	Secret string
}

type EditTitle struct {
	ItemID int64
}

type EditPrice struct {
	ItemID int64
	Title  string
}

type AwaitReceipt struct {
	OrderID int64
	ItemID  int64
}

func (AddTitle) Step() Step     { return StepAddTitle }
func (AddSecret) Step() Step    { return StepAddSecret }
func (AddPrice) Step() Step     { return StepAddPrice }
func (EditTitle) Step() Step    { return StepEditTitle }
func (EditPrice) Step() Step    { return StepEditPrice }
func (AwaitReceipt) Step() Step { return StepAwaitReceipt }

func (AddTitle) session()     {}
func (AddSecret) session()    {}
func (AddPrice) session()     {}
func (EditTitle) session()    {}
func (EditPrice) session()    {}
func (AwaitReceipt) session() {}
