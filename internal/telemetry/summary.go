package telemetry

// Summary aggregates suspicion counters over a set of records.
type Summary struct {
	SessionID            string `json:"sessionId"`
	Received             int    `json:"received"`
	Keystrokes           int    `json:"keystrokes"`
	PasteEvents          int    `json:"pasteEvents"`
	ServerDetectedPastes int    `json:"serverDetectedPastes"`
	OutOfOrder           int    `json:"outOfOrder"`
	PastedChars          int    `json:"pastedChars"`
	TypedCharsApprox     int    `json:"typedCharsApprox"`
	SuspiciousEvents     int    `json:"suspiciousEvents"`
}

// Summarize computes the summary for records of one session.
func Summarize(sessionID string, records []Record) Summary {
	s := Summary{SessionID: sessionID, Received: len(records)}
	for _, r := range records {
		switch {
		case r.Kind.IsIncrementalEdit():
			s.Keystrokes++
		case r.Kind.IsDeclaredPaste():
			s.PasteEvents++
			s.PastedChars += r.Details.TextLength
		}
		s.TypedCharsApprox += r.Details.CharCount

		switch r.ServerFlag {
		case FlagServerDetectedPaste:
			s.ServerDetectedPastes++
			s.SuspiciousEvents++
		case FlagOutOfOrder:
			s.OutOfOrder++
			s.SuspiciousEvents++
		}
	}
	return s
}
