package reconcile

import (
	"context"
	"fmt"

	"github.com/msageha/autosteer/internal/backend"
)

// BackendFetcher loads every key kind from client. Values are the backend's
// model types: []model.Task for KindTasks, model.ExecutionState for
// KindExecutionState, and so on.
func BackendFetcher(client backend.Client) Fetcher {
	return func(ctx context.Context, key Key) (any, error) {
		switch key.Kind {
		case KindQueueStatus:
			return client.GetQueueStatus(ctx)
		case KindProcesses:
			return client.ListProcesses(ctx)
		case KindTasks:
			return client.ListTasks(ctx)
		case KindTask:
			return client.GetTask(ctx, key.ID)
		case KindExecutionState:
			return client.GetExecutionState(ctx, key.ID)
		case KindSettings:
			return client.GetSettings(ctx)
		case KindProfiles:
			return client.ListProfiles(ctx)
		case KindProfile:
			return client.GetProfile(ctx, key.ID)
		case KindTemplates:
			return client.ListTemplates(ctx)
		case KindPerformance:
			return client.ListPerformance(ctx, backend.PerformanceFilter{ProfileID: key.ID})
		default:
			return nil, fmt.Errorf("no fetcher for key %s", key)
		}
	}
}
