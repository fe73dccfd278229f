package entstore

import (
	"context"
	"sync"
	"time"

	"github.com/nitkach/mares/pkg/store"
)

// raceUpdates fires len(names) updates against id at once, all presenting the
// same token, and returns their results in input order.
func raceUpdates(ctx context.Context, st store.MareStore, id string, token time.Time, names []string) ([]store.SetResult, []error) {
	results := make([]store.SetResult, len(names))
	errs := make([]error, len(names))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = st.Update(ctx, id, name, store.BreedUnicorn, token)
		}()
	}
	close(start)
	wg.Wait()
	return results, errs
}

// seed creates n records named mare-00.. in id order and returns their ids.
func seed(ctx context.Context, st store.MareStore, n int) ([]string, error) {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := st.Create(ctx, nameFor(i), store.Breeds[i%len(store.Breeds)])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func nameFor(i int) string {
	return "mare-" + string(rune('a'+i/26)) + string(rune('a'+i%26))
}

func recordIDs(recs []store.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
