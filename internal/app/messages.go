package app

import "time"

type tickMsg time.Time

// runStartedMsg reports the handshake of a Send or Resume.
type runStartedMsg struct {
	threadID string
	resume   bool
	err      error
}

// approvalSentMsg reports a gate Confirm or Retry.
type approvalSentMsg struct {
	callID string
	retry  bool
	err    error
}

type clipboardResultMsg struct {
	success string
	err     error
}
