// Package pipeline fetches tokens for a region's accounts and decides which
// of them are usable.
//
// The flow for one region is FanOut, which runs a Retrier per account and
// returns outcomes in input order, followed by Reconcile, which keeps the
// tokens issued for the region being processed.
package pipeline

// Outcome is the result of fetching a token for one account
type Outcome struct {
	// Serial is the 1-based position of the account in the input list
	Serial   int
	UID      string
	Password string
	// Token is empty when every attempt failed
	Token string
	// Region is the region the endpoint reported for the token
	Region string
	// Attempts is the number of requests that were made
	Attempts int
}

// OK reports whether a token was issued
func (o Outcome) OK() bool {
	return o.Token != ""
}

// Summary describes how a region went
type Summary struct {
	Region         string `json:"region"`
	TotalAccounts  int    `json:"total_accounts"`
	Succeeded      int    `json:"succeeded"`
	Failed         int    `json:"failed"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	// Output is the file that the usable tokens were written to
	Output string `json:"output,omitempty"`
	// Skipped is set when the region had no account file
	Skipped bool `json:"skipped,omitempty"`
}
