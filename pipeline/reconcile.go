package pipeline

import (
	"github.com/overmindtech/tokengen/tokenstore"
	log "github.com/sirupsen/logrus"
)

// Reconcile keeps the tokens that were issued for region. Failed fetches and
// tokens reported for any other region count as failed and are dropped.
// ElapsedSeconds and Output on the summary are left for the caller
func Reconcile(region string, outcomes []Outcome) ([]tokenstore.Record, Summary) {
	records := make([]tokenstore.Record, 0, len(outcomes))
	summary := Summary{
		Region:        region,
		TotalAccounts: len(outcomes),
	}

	for _, o := range outcomes {
		if o.OK() && o.Region == region {
			records = append(records, tokenstore.Record{UID: o.UID, Token: o.Token})
			summary.Succeeded++
			log.WithFields(log.Fields{
				"uid":    o.UID,
				"region": region,
			}).Infof("UID #%d success", o.Serial)
			continue
		}

		summary.Failed++
		fields := log.Fields{
			"uid":    o.UID,
			"region": region,
		}
		if o.OK() {
			fields["reportedRegion"] = o.Region
		}
		log.WithFields(fields).Infof("UID #%d failed", o.Serial)
	}

	return records, summary
}
