// Package notify sends progress reports to a chat. Delivery is fire and
// forget: a failed notification is logged and never affects a run.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/overmindtech/tokengen/pipeline"
	log "github.com/sirupsen/logrus"
)

// Notifier accepts a Markdown formatted message
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Nop only logs messages. It is used when no chat is configured
type Nop struct{}

func (Nop) Notify(ctx context.Context, message string) {
	log.WithContext(ctx).WithField("message", message).Debug("No notifier configured, dropping message")
}

const timestampFormat = "2006-01-02 15:04:05"

// StartMessage announces a run over regions
func StartMessage(regions []string) string {
	return fmt.Sprintf("🤖 *Token Generation Started for %v...* ⚙️", strings.Join(regions, ", "))
}

// SummaryMessage reports how a region went
func SummaryMessage(s pipeline.Summary, now time.Time) string {
	return fmt.Sprintf("✅ *%v Token Generation Completed*\n\n"+
		"📦 *Accounts:* %d\n"+
		"🔑 *Tokens Generated:* %d\n"+
		"❌ *Failed:* %d\n"+
		"🕒 *Time Taken:* %dm %ds\n"+
		"📅 *Updated:* %v",
		s.Region,
		s.TotalAccounts,
		s.Succeeded,
		s.Failed,
		s.ElapsedSeconds/60, s.ElapsedSeconds%60,
		now.Format(timestampFormat),
	)
}

// FinalMessage reports the total over all regions
func FinalMessage(total int) string {
	return fmt.Sprintf("✅ *All Regions Completed*\n🔹 Total Tokens: %d", total)
}

// InterventionMessage asks an operator to resolve a conflict in the
// repository before the run can be published
func InterventionMessage(runID string, reason string) string {
	return fmt.Sprintf("⚠️ *Manual Intervention Required*\n\nRun `%v` could not be published: %v\nResolve the conflict and run `tokengen resume`.", runID, reason)
}
