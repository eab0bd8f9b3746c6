// Package storetest checks that an api.Store implementation behaves like a
// channel message store. Every store package runs it from its own tests.
package storetest

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/corpos/channel/api"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// NewStoreFunc returns an empty store that stamps new messages with now.
type NewStoreFunc func(t *testing.T, now func() time.Time) api.Store

// Clock hands out strictly increasing times, a fixed step apart.
type Clock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewClock returns a clock starting at 2024-01-01 00:00:00 UTC that steps
// one second per call.
func NewClock() *Clock {
	return NewClockStep(time.Second)
}

// NewClockStep returns a clock starting at 2024-01-01 00:00:00 UTC that
// steps by step per call.
func NewClockStep(step time.Duration) *Clock {
	return &Clock{next: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: step}
}

// Now returns the next time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.step)
	return now
}

var sortUsers = cmpopts.SortSlices(func(a, b string) bool { return a < b })

// Run runs the store conformance tests.
func Run(t *testing.T, newStore NewStoreFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s api.Store)
	}{
		{"CreateDefaults", testCreateDefaults},
		{"CreateMedia", testCreateMedia},
		{"IncrementViewCount", testIncrementViewCount},
		{"TogglePin", testTogglePin},
		{"ToggleReactionInverse", testToggleReactionInverse},
		{"ToggleReactionUsers", testToggleReactionUsers},
		{"ToggleReactionDefaults", testToggleReactionDefaults},
		{"UnknownID", testUnknownID},
		{"Search", testSearch},
		{"Order", testOrder},
		{"Delete", testDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t, NewClock().Now))
		})
	}
}

// RunNanosecondOrder checks that listing and search follow creation times
// that are only nanoseconds apart. Stores that keep nanosecond timestamps
// run it in addition to Run.
func RunNanosecondOrder(t *testing.T, newStore NewStoreFunc) {
	ctx := context.Background()
	s := newStore(t, NewClockStep(50*time.Nanosecond))

	var want []string
	for range 20 {
		want = append(want, create(t, s, api.NewMessage{Content: "tick"}).ID)
	}

	all, err := s.ListMessages(ctx)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if diff := cmp.Diff(want, ids(all)); diff != "" {
		t.Errorf("List order mismatch (-want +got):\n%s", diff)
	}

	found, err := s.SearchMessages(ctx, "tick")
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	reversed := slices.Clone(want)
	slices.Reverse(reversed)
	if diff := cmp.Diff(reversed, ids(found)); diff != "" {
		t.Errorf("Search order mismatch (-want +got):\n%s", diff)
	}
}

func create(t *testing.T, s api.Store, nm api.NewMessage) api.Message {
	t.Helper()
	msg, err := s.CreateMessage(context.Background(), nm)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	return msg
}

func get(t *testing.T, s api.Store, id string) api.Message {
	t.Helper()
	msgs, err := s.ListMessages(context.Background())
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	for _, m := range msgs {
		if m.ID == id {
			return m
		}
	}
	t.Fatalf("Message %s not listed", id)
	return api.Message{}
}

func ids(msgs []api.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func testCreateDefaults(t *testing.T, s api.Store) {
	msg := create(t, s, api.NewMessage{Content: "hello"})
	if msg.ID == "" {
		t.Fatal("Got empty id")
	}

	want := api.Message{
		ID:          msg.ID,
		Content:     "hello",
		MessageType: api.TypeText,
		Reactions:   api.Reactions{},
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, msg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Created message mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, get(t, s, msg.ID), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Listed message mismatch (-want +got):\n%s", diff)
	}
}

func testCreateMedia(t *testing.T, s api.Store) {
	msg := create(t, s, api.NewMessage{
		MessageType:   api.TypeImage,
		MediaURL:      "/uploads/1-2.png",
		MediaFilename: "cat.png",
	})

	got := get(t, s, msg.ID)
	if got.MessageType != api.TypeImage {
		t.Errorf("Got type %q, want image", got.MessageType)
	}
	if got.Content != "" {
		t.Errorf("Got content %q, want empty", got.Content)
	}
	if got.MediaURL == nil || *got.MediaURL != "/uploads/1-2.png" {
		t.Errorf("Got media url %v, want /uploads/1-2.png", got.MediaURL)
	}
	if got.MediaFilename == nil || *got.MediaFilename != "cat.png" {
		t.Errorf("Got media filename %v, want cat.png", got.MediaFilename)
	}

	text := get(t, s, create(t, s, api.NewMessage{Content: "plain"}).ID)
	if text.MediaURL != nil || text.MediaFilename != nil {
		t.Errorf("Got media fields %v %v on a text message, want nil", text.MediaURL, text.MediaFilename)
	}
}

func testIncrementViewCount(t *testing.T, s api.Store) {
	ctx := context.Background()
	msg := create(t, s, api.NewMessage{Content: "hello"})

	for range 2 {
		if err := s.IncrementViewCount(ctx, msg.ID); err != nil {
			t.Fatalf("IncrementViewCount: %v", err)
		}
	}
	if got := get(t, s, msg.ID).ViewCount; got != 2 {
		t.Errorf("Got view count %d, want 2", got)
	}
}

func testTogglePin(t *testing.T, s api.Store) {
	ctx := context.Background()
	a := create(t, s, api.NewMessage{Content: "a"})
	b := create(t, s, api.NewMessage{Content: "b"})

	for _, id := range []string{a.ID, b.ID} {
		if err := s.TogglePin(ctx, id); err != nil {
			t.Fatalf("TogglePin: %v", err)
		}
	}
	// Pins are not exclusive.
	if !get(t, s, a.ID).IsPinned || !get(t, s, b.ID).IsPinned {
		t.Error("Want both messages pinned")
	}

	if err := s.TogglePin(ctx, a.ID); err != nil {
		t.Fatalf("TogglePin: %v", err)
	}
	if get(t, s, a.ID).IsPinned {
		t.Error("Want message unpinned after second toggle")
	}
}

func testToggleReactionInverse(t *testing.T, s api.Store) {
	ctx := context.Background()
	msg := create(t, s, api.NewMessage{Content: "hello"})
	if err := s.ToggleReaction(ctx, msg.ID, "u2", "🔥"); err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}
	before := get(t, s, msg.ID)

	for range 2 {
		if err := s.ToggleReaction(ctx, msg.ID, "u1", "👍"); err != nil {
			t.Fatalf("ToggleReaction: %v", err)
		}
	}

	after := get(t, s, msg.ID)
	if after.ReactionCount != before.ReactionCount {
		t.Errorf("Got reaction count %d, want %d", after.ReactionCount, before.ReactionCount)
	}
	if _, ok := after.Reactions["👍"]; ok {
		t.Errorf("Want emoji removed once its last user is gone, got %v", after.Reactions)
	}
	if diff := cmp.Diff(api.Reactions{"🔥": {"u2"}}, after.Reactions); diff != "" {
		t.Errorf("Reactions mismatch (-want +got):\n%s", diff)
	}
}

func testToggleReactionUsers(t *testing.T, s api.Store) {
	ctx := context.Background()
	msg := create(t, s, api.NewMessage{Content: "hello"})

	for _, r := range []struct{ user, emoji string }{
		{"u1", "👍"},
		{"u2", "👍"},
		{"u1", "😂"},
	} {
		if err := s.ToggleReaction(ctx, msg.ID, r.user, r.emoji); err != nil {
			t.Fatalf("ToggleReaction: %v", err)
		}
	}

	got := get(t, s, msg.ID)
	if got.ReactionCount != 3 {
		t.Errorf("Got reaction count %d, want 3", got.ReactionCount)
	}
	want := api.Reactions{
		"👍": {"u1", "u2"},
		"😂": {"u1"},
	}
	if diff := cmp.Diff(want, got.Reactions, sortUsers); diff != "" {
		t.Errorf("Reactions mismatch (-want +got):\n%s", diff)
	}
}

func testToggleReactionDefaults(t *testing.T, s api.Store) {
	msg := create(t, s, api.NewMessage{Content: "hello"})
	if err := s.ToggleReaction(context.Background(), msg.ID, "", ""); err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}

	got := get(t, s, msg.ID)
	want := api.Reactions{api.DefaultEmoji: {api.AnonymousUser}}
	if diff := cmp.Diff(want, got.Reactions); diff != "" {
		t.Errorf("Reactions mismatch (-want +got):\n%s", diff)
	}
	if got.ReactionCount != 1 {
		t.Errorf("Got reaction count %d, want 1", got.ReactionCount)
	}
}

func testUnknownID(t *testing.T, s api.Store) {
	ctx := context.Background()
	msg := create(t, s, api.NewMessage{Content: "hello"})
	const missing = "00000000-0000-0000-0000-000000000000"

	if err := s.IncrementViewCount(ctx, missing); err != nil {
		t.Errorf("IncrementViewCount: %v", err)
	}
	if err := s.TogglePin(ctx, missing); err != nil {
		t.Errorf("TogglePin: %v", err)
	}
	if err := s.ToggleReaction(ctx, missing, "u1", "👍"); err != nil {
		t.Errorf("ToggleReaction: %v", err)
	}
	if err := s.DeleteMessage(ctx, missing); err != nil {
		t.Errorf("DeleteMessage: %v", err)
	}

	msgs, err := s.ListMessages(ctx)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if diff := cmp.Diff([]string{msg.ID}, ids(msgs)); diff != "" {
		t.Errorf("Listed ids mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(msg, msgs[0], cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Message changed (-want +got):\n%s", diff)
	}
}

func testSearch(t *testing.T, s api.Store) {
	ctx := context.Background()
	cats := create(t, s, api.NewMessage{Content: "Cats are great"})
	create(t, s, api.NewMessage{Content: "I have a dog"})
	file := create(t, s, api.NewMessage{
		MessageType:   api.TypeFile,
		MediaURL:      "/uploads/1-1.pdf",
		MediaFilename: "Concatenate_100%.pdf",
	})

	got, err := s.SearchMessages(ctx, "cat")
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if diff := cmp.Diff([]string{file.ID, cats.ID}, ids(got)); diff != "" {
		t.Errorf("Search ids mismatch (-want +got):\n%s", diff)
	}

	got, err = s.SearchMessages(ctx, "_100%")
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if diff := cmp.Diff([]string{file.ID}, ids(got)); diff != "" {
		t.Errorf("Literal search ids mismatch (-want +got):\n%s", diff)
	}

	got, err = s.SearchMessages(ctx, "parrot")
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Got %v, want empty non-nil slice", got)
	}
}

func testOrder(t *testing.T, s api.Store) {
	ctx := context.Background()
	var want []string
	for _, c := range []string{"note one", "note two", "note three"} {
		want = append(want, create(t, s, api.NewMessage{Content: c}).ID)
	}

	all, err := s.ListMessages(ctx)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if diff := cmp.Diff(want, ids(all)); diff != "" {
		t.Errorf("List order mismatch (-want +got):\n%s", diff)
	}

	found, err := s.SearchMessages(ctx, "NOTE")
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	reversed := []string{want[2], want[1], want[0]}
	if diff := cmp.Diff(reversed, ids(found)); diff != "" {
		t.Errorf("Search order mismatch (-want +got):\n%s", diff)
	}
}

func testDelete(t *testing.T, s api.Store) {
	ctx := context.Background()
	keep := create(t, s, api.NewMessage{Content: "keep"})
	drop := create(t, s, api.NewMessage{Content: "drop"})
	if err := s.ToggleReaction(ctx, drop.ID, "u1", "👍"); err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}

	for range 2 {
		if err := s.DeleteMessage(ctx, drop.ID); err != nil {
			t.Fatalf("DeleteMessage: %v", err)
		}
	}

	msgs, err := s.ListMessages(ctx)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if diff := cmp.Diff([]string{keep.ID}, ids(msgs)); diff != "" {
		t.Errorf("Listed ids mismatch (-want +got):\n%s", diff)
	}
}
