package moderation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sujalbistaa/trustdesk/internal/db/dbtest"
	"github.com/sujalbistaa/trustdesk/internal/errs"
	"github.com/sujalbistaa/trustdesk/internal/models"
	"github.com/sujalbistaa/trustdesk/internal/trust"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Notify(event string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fixture struct {
	svc   *Service
	trust *trust.Aggregator
	feed  *recorder
}

func newFixture(t *testing.T) fixture {
	gdb := dbtest.New(t)
	log, _ := test.NewNullLogger()
	agg := trust.NewAggregator(gdb, trust.DefaultConfig(), log)
	svc := NewService(gdb, agg, DefaultConfig(), log)

	var mu sync.Mutex
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	feed := &recorder{}
	svc.SetNotifier(feed)
	return fixture{svc: svc, trust: agg, feed: feed}
}

func flag(post, reporter string) FlagInput {
	return FlagInput{PostID: post, ReporterID: reporter, Reason: "spam"}
}

func (f fixture) submit(t *testing.T, post string, reporters ...string) models.QueueItem {
	t.Helper()
	var last models.Flag
	for _, r := range reporters {
		var err error
		last, _, err = f.svc.SubmitFlag(context.Background(), flag(post, r))
		require.NoError(t, err)
	}
	item, err := f.svc.Get(context.Background(), last.QueueItemID)
	require.NoError(t, err)
	return item
}

func TestSubmitFlagValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]FlagInput{
		"missing post":     {ReporterID: "r", Reason: "spam"},
		"missing reporter": {PostID: "p", Reason: "spam"},
		"unknown reason":   {PostID: "p", ReporterID: "r", Reason: "scam"},
		"long description": {PostID: "p", ReporterID: "r", Reason: "other", Description: strings.Repeat("é", 501)},
	}
	for name, in := range cases {
		_, _, err := f.svc.SubmitFlag(ctx, in)
		assert.ErrorIs(t, err, errs.ErrValidation, name)
	}

	_, created, err := f.svc.SubmitFlag(ctx, FlagInput{PostID: "p", ReporterID: "r", Reason: " Other ", Description: strings.Repeat("é", 500)})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDuplicateFlagCollapses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.svc.SubmitFlag(ctx, flag("post-1", "alice"))
	require.NoError(t, err)
	assert.True(t, created)

	in := flag("post-1", "alice")
	in.Description = "still spamming"
	second, created, err := f.svc.SubmitFlag(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.SubmissionCount)

	flags, err := f.svc.ListFlags(ctx, "post-1")
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "still spamming", flags[0].Description)

	item, err := f.svc.Get(ctx, first.QueueItemID)
	require.NoError(t, err)
	assert.Equal(t, 1, item.UniqueReporters)
	assert.Equal(t, 2, item.TotalFlags)
	assert.Equal(t, models.PriorityLow, item.Priority)
}

func TestThreeReportersMakeMediumItem(t *testing.T) {
	f := newFixture(t)

	item := f.submit(t, "post-1", "alice", "bob", "carol")

	assert.Equal(t, 3, item.TotalFlags)
	assert.Equal(t, 3, item.UniqueReporters)
	assert.Equal(t, models.PriorityMedium, item.Priority)
	assert.Equal(t, models.QueuePending, item.Status)
	assert.Equal(t, models.SourceFlag, item.Source)
	assert.Nil(t, item.AISpamScore)
	require.Len(t, item.Flags, 3)
	assert.Equal(t, "alice", item.Flags[0].ReporterID)

	open, err := f.svc.List(context.Background(), ListFilter{Status: models.QueuePending})
	require.NoError(t, err)
	assert.Len(t, open, 1)

	assert.Equal(t, []string{models.EventQueueItemOpened, models.EventQueueItemUpdated, models.EventQueueItemUpdated}, f.feed.all())
}

func TestQueueOrdering(t *testing.T) {
	f := newFixture(t)

	one := f.submit(t, "post-one", "r1")
	three := f.submit(t, "post-three", "r1", "r2", "r3")
	six := f.submit(t, "post-six", "r1", "r2", "r3", "r4", "r5", "r6")
	lateOne := f.submit(t, "post-late", "r9")

	items, err := f.svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, models.PriorityHigh, items[0].Priority)
	assert.Equal(t, []string{six.ID, three.ID, one.ID, lateOne.ID},
		[]string{items[0].ID, items[1].ID, items[2].ID, items[3].ID})

	lows, err := f.svc.List(context.Background(), ListFilter{Priority: models.PriorityLow, Limit: 1})
	require.NoError(t, err)
	require.Len(t, lows, 1)
	assert.Equal(t, one.ID, lows[0].ID)
}

func TestResolveRemovedCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.trust.RecordObservation(ctx, "author-1", "older-post", 80, 0))
	before, err := f.trust.Recompute(ctx, "author-1")
	require.NoError(t, err)

	f.svc.SetAuthorLookup(func(context.Context, string) (string, error) { return "author-1", nil })
	item := f.submit(t, "post-1", "alice", "bob")

	resolved, err := f.svc.Resolve(ctx, item.ID, "removed", "mod-1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueResolved, resolved.Status)
	assert.Equal(t, models.OutcomeRemoved, resolved.Outcome)
	assert.Equal(t, "mod-1", resolved.ResolvedBy)
	assert.Equal(t, "author-1", resolved.AuthorID)
	require.NotNil(t, resolved.ResolvedAt)
	for _, fl := range resolved.Flags {
		assert.Equal(t, models.FlagActioned, fl.Status)
	}

	after, err := f.trust.Get(ctx, "author-1")
	require.NoError(t, err)
	assert.Less(t, after.Score, before.Score)
	assert.Equal(t, 70, after.Score)
	assert.Equal(t, 1, after.PostsRemoved)

	_, err = f.svc.Resolve(ctx, item.ID, "approved", "mod-2")
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	events := f.feed.all()
	assert.Contains(t, events, models.EventQueueItemResolved)
	assert.Equal(t, models.EventPostRemoved, events[len(events)-1])

	actions, err := f.svc.Actions(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "removed", actions[0].Action)
}

func TestResolveUsesDetectorSnapshotCommittedBeforeResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.submit(t, "post-1", "alice")
	require.Equal(t, models.RiskUnset, item.AIRiskLevel)

	// A detector verdict lands between the first read and the transaction.
	f.svc.SetAuthorLookup(func(context.Context, string) (string, error) {
		err := f.svc.db.Model(&models.QueueItem{}).Where("id = ?", item.ID).
			Update("ai_risk_level", models.RiskHigh).Error
		return "author-1", err
	})

	resolved, err := f.svc.Resolve(ctx, item.ID, "removed", "mod-1")
	require.NoError(t, err)
	assert.Equal(t, models.RiskHigh, resolved.AIRiskLevel)

	profile, err := f.trust.Get(ctx, "author-1")
	require.NoError(t, err)
	assert.Equal(t, 30, profile.Score)
}

func TestResolveApprovedDismissesFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.SetAuthorLookup(func(context.Context, string) (string, error) { return "author-1", nil })
	item := f.submit(t, "post-1", "alice")

	resolved, err := f.svc.Resolve(ctx, item.ID, "APPROVED", "mod-1")
	require.NoError(t, err)
	assert.Equal(t, models.FlagDismissed, resolved.Flags[0].Status)

	profile, err := f.trust.Get(ctx, "author-1")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.PostsApproved)
	assert.Equal(t, 52, profile.Score)
}

func TestResolveWithUnknownAuthorSkipsCascade(t *testing.T) {
	f := newFixture(t)
	item := f.submit(t, "post-1", "alice")

	resolved, err := f.svc.Resolve(context.Background(), item.ID, "removed", "mod-1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueResolved, resolved.Status)
}

func TestResolveErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.submit(t, "post-1", "alice")

	_, err := f.svc.Resolve(ctx, "missing", "removed", "mod-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.Resolve(ctx, item.ID, "deleted", "mod-1")
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.svc.Resolve(ctx, item.ID, "removed", " ")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestNewFlagAfterResolutionOpensNewItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.submit(t, "post-1", "alice")
	_, err := f.svc.Resolve(ctx, old.ID, "approved", "mod-1")
	require.NoError(t, err)

	fresh := f.submit(t, "post-1", "alice")

	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, models.QueuePending, fresh.Status)
	assert.Equal(t, 1, fresh.UniqueReporters)
	assert.Equal(t, 1, fresh.TotalFlags)

	archived, err := f.svc.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueResolved, archived.Status)

	flags, err := f.svc.ListFlags(ctx, "post-1")
	require.NoError(t, err)
	assert.Len(t, flags, 2)
}

func TestClaimAndRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.submit(t, "post-1", "alice")

	claimed, err := f.svc.Claim(ctx, item.ID, "mod-1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueInReview, claimed.Status)
	assert.Equal(t, "mod-1", claimed.AssignedTo)
	assert.Equal(t, models.FlagReviewed, claimed.Flags[0].Status)

	_, err = f.svc.Claim(ctx, item.ID, "mod-2")
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	_, err = f.svc.Release(ctx, item.ID, "mod-2")
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	released, err := f.svc.Release(ctx, item.ID, "mod-1")
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, released.Status)
	assert.Empty(t, released.AssignedTo)

	_, err = f.svc.Claim(ctx, "missing", "mod-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.Claim(ctx, item.ID, "mod-2")
	require.NoError(t, err)
	resolved, err := f.svc.Resolve(ctx, item.ID, "removed", "mod-2")
	require.NoError(t, err)
	assert.Equal(t, models.QueueResolved, resolved.Status)

	actions, err := f.svc.Actions(ctx, item.ID)
	require.NoError(t, err)
	var names []string
	for _, a := range actions {
		names = append(names, a.Action)
	}
	assert.Equal(t, []string{ActionClaim, ActionRelease, ActionClaim, "removed"}, names)
}

func TestRepeatFlagWhileInReviewDedups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.submit(t, "post-1", "alice")

	_, err := f.svc.Claim(ctx, item.ID, "mod-1")
	require.NoError(t, err)

	_, created, err := f.svc.SubmitFlag(ctx, flag("post-1", "alice"))
	require.NoError(t, err)
	assert.False(t, created)

	got, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UniqueReporters)
	assert.Equal(t, models.QueueInReview, got.Status)
}

func TestAttachDetection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	none, err := f.svc.AttachDetection(ctx, models.SpamVerdict{PostID: "calm", AuthorID: "u", RiskScore: 49, RiskLevel: models.RiskMedium})
	require.NoError(t, err)
	assert.Nil(t, none)

	proactive, err := f.svc.AttachDetection(ctx, models.SpamVerdict{
		PostID: "risky", AuthorID: "u-1", RiskScore: 60, RiskLevel: models.RiskMedium, RiskFlags: []string{"promotional_language"},
	})
	require.NoError(t, err)
	require.NotNil(t, proactive)
	assert.Equal(t, models.SourceDetector, proactive.Source)
	assert.Equal(t, models.PriorityMedium, proactive.Priority)
	assert.Equal(t, "u-1", proactive.AuthorID)
	assert.Equal(t, []string{"promotional_language"}, proactive.AITags)

	item := f.submit(t, "risky", "alice")
	assert.Equal(t, proactive.ID, item.ID)
	assert.Equal(t, models.SourceDetector, item.Source)
	assert.Equal(t, 1, item.TotalFlags)
}

func TestDetectorRiskRaisesFlaggedItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := f.submit(t, "post-1", "alice", "bob", "carol")
	require.Equal(t, models.PriorityMedium, item.Priority)

	updated, err := f.svc.AttachDetection(ctx, models.SpamVerdict{PostID: "post-1", AuthorID: "u-1", RiskScore: 95, RiskLevel: models.RiskHigh})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, item.ID, updated.ID)
	assert.Equal(t, models.PriorityHigh, updated.Priority)
	require.NotNil(t, updated.AISpamScore)
	assert.Equal(t, 95, *updated.AISpamScore)
}

func TestFlagOnPostWithStoredVerdictUsesSnapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.db.Create(&models.SpamVerdict{
		PostID: "post-1", AuthorID: "u-1", RiskScore: 20, RiskLevel: models.RiskLow, ProcessedAt: time.Now(),
	}).Error)

	item := f.submit(t, "post-1", "alice")

	assert.Equal(t, "u-1", item.AuthorID)
	require.NotNil(t, item.AISpamScore)
	assert.Equal(t, 20, *item.AISpamScore)
}

func TestConcurrentSubmissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.svc.SubmitFlag(ctx, flag("shared", fmt.Sprintf("reporter-%d", i)))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.SubmitFlag(ctx, flag("shared", "repeat"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	items, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 24, items[0].TotalFlags)
	assert.Equal(t, 13, items[0].UniqueReporters)
	assert.Equal(t, models.PriorityHigh, items[0].Priority)

	flags, err := f.svc.ListFlags(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, flags, 13)
	for _, fl := range flags {
		if fl.ReporterID == "repeat" {
			assert.Equal(t, 12, fl.SubmissionCount)
		}
	}
}

func TestConcurrentResolveHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.submit(t, "post-1", "alice")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		handled int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Resolve(ctx, item.ID, "removed", fmt.Sprintf("mod-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errs.KindOf(err) == errs.KindInvalidState:
				handled++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, handled)
}

func TestDerivePriority(t *testing.T) {
	fifty, ten := 50, 10
	assert.Equal(t, models.PriorityHigh, DerivePriority(models.RiskHigh, 0, nil))
	assert.Equal(t, models.PriorityHigh, DerivePriority(models.RiskUnset, 5, nil))
	assert.Equal(t, models.PriorityMedium, DerivePriority(models.RiskLow, 2, nil))
	assert.Equal(t, models.PriorityMedium, DerivePriority(models.RiskMedium, 1, &fifty))
	assert.Equal(t, models.PriorityLow, DerivePriority(models.RiskLow, 1, &ten))
}

func seedDashboard(t *testing.T, f fixture) (spam, harassment, removed models.QueueItem) {
	t.Helper()
	ctx := context.Background()

	spam = f.submit(t, "post-1", "alice", "bob")
	fl, _, err := f.svc.SubmitFlag(ctx, FlagInput{PostID: "post-2", ReporterID: "carol", Reason: "harassment"})
	require.NoError(t, err)
	harassment, err = f.svc.Claim(ctx, fl.QueueItemID, "mod-1")
	require.NoError(t, err)

	removed = f.submit(t, "post-3", "dave")
	_, err = f.svc.Resolve(ctx, removed.ID, "removed", "mod-2")
	require.NoError(t, err)
	return spam, harassment, removed
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedDashboard(t, f)
	require.NoError(t, f.svc.db.Create(&models.SpamVerdict{
		PostID: "post-9", AuthorID: "u9", IsSpam: true, RiskScore: 80, RiskLevel: models.RiskHigh, RiskFlags: []string{},
	}).Error)

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.PendingReviews)
	assert.Equal(t, 1, st.InReview)
	assert.Equal(t, 1, st.ResolvedToday)
	assert.Equal(t, 1, st.PostsRemoved)
	assert.Equal(t, 1, st.SpamDetected)
	assert.Equal(t, 4, st.TotalFlags)
	assert.Zero(t, st.UrgentItems)
	assert.Equal(t, 2, st.QueueBreakdown[models.ReasonSpam])
	assert.Equal(t, 1, st.QueueBreakdown[models.ReasonHarassment])
	assert.Zero(t, st.QueueBreakdown[models.ReasonOther])
	assert.Less(t, st.AverageResponseMinutes, 1.0)
	assert.False(t, st.GeneratedAt.IsZero())
}

func TestStatsOnEmptyQueue(t *testing.T) {
	f := newFixture(t)

	st, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.TotalFlags)
	assert.Zero(t, st.AverageResponseMinutes)
	assert.Len(t, st.QueueBreakdown, 4)
}

func TestListFiltersAndSorts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spam, harassment, removed := seedDashboard(t, f)

	items, err := f.svc.List(ctx, ListFilter{Reason: models.ReasonHarassment})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, harassment.ID, items[0].ID)

	items, err = f.svc.List(ctx, ListFilter{AssignedTo: "mod-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, harassment.ID, items[0].ID)

	items, err = f.svc.List(ctx, ListFilter{Sort: SortMostFlagged})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, spam.ID, items[0].ID)

	items, err = f.svc.List(ctx, ListFilter{Sort: SortNewest})
	require.NoError(t, err)
	assert.Equal(t, removed.ID, items[0].ID)

	items, err = f.svc.List(ctx, ListFilter{Sort: SortOldest})
	require.NoError(t, err)
	assert.Equal(t, spam.ID, items[0].ID)
}

func TestParseQueueSort(t *testing.T) {
	s, ok := ParseQueueSort("")
	assert.True(t, ok)
	assert.Equal(t, SortPriority, s)

	s, ok = ParseQueueSort(" Most_Flagged ")
	assert.True(t, ok)
	assert.Equal(t, SortMostFlagged, s)

	_, ok = ParseQueueSort("random")
	assert.False(t, ok)
}
