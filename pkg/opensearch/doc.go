// Package opensearch builds the OpenSearch client used to archive taskq
// events for later analysis.
//
//	cfg, _ := config.Load[opensearch.Config]()
//	if cfg.Enabled() {
//	    client, err := opensearch.New(ctx, cfg)
//	    if err != nil {
//	        return err
//	    }
//	    sink, _ := events.NewOpenSearchSink(client, cfg.Index)
//	}
//
// New fails with ErrNoAddresses when archiving is not configured, with
// ErrHealthcheckFailed when the cluster does not answer and with ErrIndexSetup
// when the index named by TASKQ_OPENSEARCH_INDEX cannot be created.
package opensearch
