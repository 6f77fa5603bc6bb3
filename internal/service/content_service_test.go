package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/permission"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := db.Open("file:service-"+uuid.NewString()+"?mode=memory&cache=shared", logger.Silent)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	// 内存库只保留一个连接，写事务在连接池上串行
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return gdb
}

// steppingClock 每次调用前进一秒，让按时间排序的断言稳定。
func steppingClock() func() time.Time {
	current := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func newTestContentService(gdb *gorm.DB, module permission.Module) *ContentService {
	svc := NewContentService(gdb, module, NewInteractionService(gdb))
	svc.now = steppingClock()
	return svc
}

var (
	memberA = Author{ID: "user-a", Name: "Alice"}
	memberB = Author{ID: "user-b", Name: "Bob"}
)

func TestContentServiceCreateDisambiguatesSlug(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := newTestContentService(gdb, permission.ModuleForum)
	ctx := context.Background()

	first, err := svc.Create(ctx, ContentInput{Title: "Hello World", Body: "first"}, memberA)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := svc.Create(ctx, ContentInput{Title: "Hello World", Body: "second"}, memberB)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	third, err := svc.Create(ctx, ContentInput{Title: "hello   world!", Body: "third"}, memberB)
	if err != nil {
		t.Fatalf("create third: %v", err)
	}

	if first.Slug != "hello-world" {
		t.Fatalf("expected hello-world, got %q", first.Slug)
	}
	if second.Slug != "hello-world-1" {
		t.Fatalf("expected hello-world-1, got %q", second.Slug)
	}
	if third.Slug != "hello-world-2" {
		t.Fatalf("expected hello-world-2, got %q", third.Slug)
	}

	if second.Stats != (db.ContentStats{}) {
		t.Fatalf("expected zeroed stats, got %+v", second.Stats)
	}
	if second.Status != db.StatusPublished {
		t.Fatalf("expected default status published, got %q", second.Status)
	}
	if second.Author.ID != memberB.ID || second.Author.Name != "Bob" {
		t.Fatalf("unexpected author snapshot: %+v", second.Author)
	}
}

func TestContentServiceSlugsAreScopedPerModule(t *testing.T) {
	gdb := setupServiceTestDB(t)
	ctx := context.Background()

	forum := newTestContentService(gdb, permission.ModuleForum)
	blog := newTestContentService(gdb, permission.ModuleBlog)

	a, err := forum.Create(ctx, ContentInput{Title: "Patch Notes"}, memberA)
	if err != nil {
		t.Fatalf("create forum: %v", err)
	}
	b, err := blog.Create(ctx, ContentInput{Title: "Patch Notes"}, memberA)
	if err != nil {
		t.Fatalf("create blog: %v", err)
	}

	if a.Slug != "patch-notes" || b.Slug != "patch-notes" {
		t.Fatalf("expected both modules to own patch-notes, got %q and %q", a.Slug, b.Slug)
	}

	if _, err := blog.GetBySlug(ctx, "patch-notes", "", false); err != nil {
		t.Fatalf("blog lookup: %v", err)
	}
}

func TestContentServiceCreateValidatesInput(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := newTestContentService(gdb, permission.ModuleForum)
	ctx := context.Background()

	_, err := svc.Create(ctx, ContentInput{Title: "   ", Status: "pending"}, memberA)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := verr.Fields["title"]; !ok {
		t.Fatalf("expected title error, got %+v", verr.Fields)
	}
	if _, ok := verr.Fields["status"]; !ok {
		t.Fatalf("expected status error, got %+v", verr.Fields)
	}

	if _, err := svc.Create(ctx, ContentInput{Title: "Anonymous"}, Author{}); !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
}

func TestContentServiceCreateDerivesExcerptAndTags(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := newTestContentService(gdb, permission.ModuleWiki)
	ctx := context.Background()

	item, err := svc.Create(ctx, ContentInput{
		Title: "Boss Guide",
		Body:  "# Phase one\n\nDodge the **fire** &amp; stay close.",
		Tags:  []string{"Boss", "boss", " raid "},
	}, memberA)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if item.Excerpt != "Phase one Dodge the fire & stay close." {
		t.Fatalf("unexpected excerpt %q", item.Excerpt)
	}
	if item.MetaDescription != item.Excerpt {
		t.Fatalf("expected meta description %q, got %q", item.Excerpt, item.MetaDescription)
	}
	if len(item.TagNames) != 2 || item.TagNames[0] != "boss" || item.TagNames[1] != "raid" {
		t.Fatalf("unexpected tags %v", item.TagNames)
	}

	loaded, err := svc.GetBySlug(ctx, item.Slug, "", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(loaded.TagNames) != 2 {
		t.Fatalf("expected persisted tags, got %v", loaded.TagNames)
	}
}

func TestContentServiceDraftHiddenUnlessAllStatuses(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := newTestContentService(gdb, permission.ModuleBlog)
	ctx := context.Background()

	draft, err := svc.Create(ctx, ContentInput{Title: "Upcoming Event", Status: db.StatusDraft}, Author{ID: "admin"})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	if _, err := svc.GetBySlug(ctx, draft.Slug, "", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for hidden draft, got %v", err)
	}
	if _, err := svc.GetBySlug(ctx, "never-existed", "", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing item, got %v", err)
	}

	got, err := svc.GetBySlug(ctx, draft.Slug, "", true)
	if err != nil {
		t.Fatalf("expected draft with includeAllStatuses, got %v", err)
	}
	if got.Status != db.StatusDraft {
		t.Fatalf("expected draft status, got %q", got.Status)
	}

	list, err := svc.List(ctx, ContentFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Pagination.Total != 0 {
		t.Fatalf("expected drafts excluded from default listing, got %d", list.Pagination.Total)
	}

	all, err := svc.List(ctx, ContentFilter{Status: StatusAll})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if all.Pagination.Total != 1 {
		t.Fatalf("expected draft in status=all listing, got %d", all.Pagination.Total)
	}
}

func TestContentServiceUpdateRegeneratesSlug(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := newTestContentService(gdb, permission.ModuleForum)
	ctx := context.Background()
	actor := &permission.Principal{ID: memberA.ID, Role: permission.RoleMember}

	original, err := svc.Create(ctx, ContentInput{Title: "Hello World", Body: "body", Category: "general"}, memberA)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, ContentInput{Title: "Trading Tips"}, memberB); err != nil {
		t.Fatalf("create other: %v", err)
	}

	title := "Trading Tips"
	res, err := svc.Update(ctx, original.Slug, ContentPatch{Title: &title}, actor)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !res.SlugChanged || res.Item.Slug != "trading-tips-1" {
		t.Fatalf("expected slug trading-tips-1, got %+v", res)
	}
	if res.PreviousSlug != "hello-world" {
		t.Fatalf("expected previous slug hello-world, got %q", res.PreviousSlug)
	}
	if res.Item.Category != "general" || res.Item.Body != "body" {
		t.Fatalf("expected untouched fields preserved, got %+v", res.Item)
	}
	if res.Item.EditedBy != actor.ID {
		t.Fatalf("expected edited_by %q, got %q", actor.ID, res.Item.EditedBy)
	}

	if _, err := svc.GetBySlug(ctx, "hello-world", "", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old slug to be gone, got %v", err)
	}

	// 旧 slug 已释放
	reused, err := svc.Create(ctx, ContentInput{Title: "Hello World"}, memberB)
	if err != nil {
		t.Fatalf("create reuse: %v", err)
	}
	if reused.Slug != "hello-world" {
		t.Fatalf("expected freed slug to be reused, got %q", reused.Slug)
	}
}

func TestContentServiceUpdateSameTitleKeepsSlug(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := newTestContentService(gdb, permission.ModuleForum)
	ctx := context.Background()

	item, err := svc.Create(ctx, ContentInput{Title: "Hello World", Body: "old"}, memberA)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	title := "Hello World"
	body := "new body text"
	tags := []string{"news"}
	res, err := svc.Update(ctx, item.Slug, ContentPatch{Title: &title, Body: &body, Tags: &tags}, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.SlugChanged || res.Item.Slug != "hello-world" {
		t.Fatalf("expected slug unchanged, got %+v", res)
	}
	if res.Item.Excerpt != "new body text" || res.Item.MetaDescription != "new body text" {
		t.Fatalf("expected derived text refreshed, got excerpt=%q meta=%q", res.Item.Excerpt, res.Item.MetaDescription)
	}
	if len(res.Item.TagNames) != 1 || res.Item.TagNames[0] != "news" {
		t.Fatalf("expected tags replaced, got %v", res.Item.TagNames)
	}
}

func TestContentServiceUpdateMissingOrDeleted(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := newTestContentService(gdb, permission.ModuleForum)
	ctx := context.Background()

	title := "Whatever"
	if _, err := svc.Update(ctx, "missing", ContentPatch{Title: &title}, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	item, err := svc.Create(ctx, ContentInput{Title: "Short Lived"}, memberA)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, item.Slug, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Update(ctx, item.Slug, ContentPatch{Title: &title}, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestContentServiceDeleteIsSoft(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := newTestContentService(gdb, permission.ModuleForum)
	ctx := context.Background()
	admin := &permission.Principal{ID: "admin", Role: permission.RoleAdmin}

	item, err := svc.Create(ctx, ContentInput{Title: "Hello World"}, memberB)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Delete(ctx, item.Slug, admin); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := svc.GetBySlug(ctx, item.Slug, "", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted item hidden even with all statuses, got %v", err)
	}

	list, err := svc.List(ctx, ContentFilter{Status: StatusAll})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Pagination.Total != 0 || len(list.Items) != 0 {
		t.Fatalf("expected deleted item excluded from listing, got %d", list.Pagination.Total)
	}

	var stored db.ContentItem
	if err := gdb.First(&stored, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("expected row to remain in storage: %v", err)
	}
	if !stored.IsDeleted || stored.DeletedBy != admin.ID || stored.DeletedAt == nil {
		t.Fatalf("expected soft delete markers, got %+v", stored)
	}
	if stored.Status != db.StatusPublished {
		t.Fatalf("expected status retained, got %q", stored.Status)
	}

	if err := svc.Delete(ctx, item.Slug, admin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to be ErrNotFound, got %v", err)
	}
}

func TestContentServiceListFiltersAndPaginates(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := newTestContentService(gdb, permission.ModuleForum)
	ctx := context.Background()

	seed := []ContentInput{
		{Title: "Fire Dragon Tips", Body: "breath attack", Category: "guides", Tags: []string{"dragon"}},
		{Title: "Ice Golem Notes", Body: "slow but tanky", Category: "guides", Tags: []string{"golem"}},
		{Title: "Server Maintenance", Body: "downtime tonight", Category: "news"},
		{Title: "Dragon Egg Hunt", Body: "event 100% rewards", Category: "events", Tags: []string{"dragon", "event"}},
		{Title: "Trading Rules", Body: "no scams", Category: "news"},
	}
	for _, input := range seed {
		author := memberA
		if input.Category == "news" {
			author = memberB
		}
		if _, err := svc.Create(ctx, input, author); err != nil {
			t.Fatalf("seed %q: %v", input.Title, err)
		}
	}

	page, err := svc.List(ctx, ContentFilter{Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if page.Pagination.Total != 5 || page.Pagination.Pages != 3 {
		t.Fatalf("unexpected pagination %+v", page.Pagination)
	}
	if !page.Pagination.HasNext || !page.Pagination.HasPrev {
		t.Fatalf("expected both next and prev on middle page, got %+v", page.Pagination)
	}
	if len(page.Items) != 2 || page.Items[0].Title != "Server Maintenance" {
		t.Fatalf("expected latest-first ordering, got %v", titles(page.Items))
	}

	oldest, err := svc.List(ctx, ContentFilter{Sort: SortOldest, Limit: 1})
	if err != nil {
		t.Fatalf("list oldest: %v", err)
	}
	if oldest.Items[0].Title != "Fire Dragon Tips" {
		t.Fatalf("expected oldest first, got %v", titles(oldest.Items))
	}

	cases := []struct {
		name   string
		filter ContentFilter
		want   int64
	}{
		{"category", ContentFilter{Category: "guides"}, 2},
		{"search is case insensitive", ContentFilter{Search: "DRAGON"}, 2},
		{"search matches body", ContentFilter{Search: "tanky"}, 1},
		{"search escapes wildcards", ContentFilter{Search: "100%"}, 1},
		{"tag", ContentFilter{Tags: []string{"Dragon"}}, 2},
		{"author id", ContentFilter{Author: memberB.ID}, 2},
		{"author name", ContentFilter{Author: "Alice"}, 3},
		{"combined", ContentFilter{Tags: []string{"dragon"}, Category: "events"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := svc.List(ctx, tc.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if res.Pagination.Total != tc.want {
				t.Fatalf("expected %d items, got %d (%v)", tc.want, res.Pagination.Total, titles(res.Items))
			}
		})
	}
}

func TestContentServiceListRejectsBadParams(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := newTestContentService(gdb, permission.ModuleForum)
	ctx := context.Background()

	var verr *ValidationError
	if _, err := svc.List(ctx, ContentFilter{Sort: "random"}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for sort, got %v", err)
	}
	if _, err := svc.List(ctx, ContentFilter{Status: "pending"}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for status, got %v", err)
	}

	res, err := svc.List(ctx, ContentFilter{Limit: 1000})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Pagination.Limit != maxPageSize {
		t.Fatalf("expected limit clamped to %d, got %d", maxPageSize, res.Pagination.Limit)
	}
}

func TestContentServiceListClampsPageBeyondLast(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := newTestContentService(gdb, permission.ModuleForum)
	ctx := context.Background()

	for _, title := range []string{"One", "Two", "Three"} {
		if _, err := svc.Create(ctx, ContentInput{Title: title}, memberA); err != nil {
			t.Fatalf("create %q: %v", title, err)
		}
	}

	res, err := svc.List(ctx, ContentFilter{Page: math.MaxInt, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Pagination.Page != 2 || res.Pagination.Pages != 2 {
		t.Fatalf("expected page clamped to 2 of 2, got %+v", res.Pagination)
	}
	if len(res.Items) != 1 || res.Items[0].Title != "One" {
		t.Fatalf("expected the last page only, got %v", titles(res.Items))
	}
	if res.Pagination.HasNext || !res.Pagination.HasPrev {
		t.Fatalf("unexpected navigation flags %+v", res.Pagination)
	}

	empty := setupServiceTestDB(t)
	res, err = newTestContentService(empty, permission.ModuleForum).List(ctx, ContentFilter{Page: 7})
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if res.Pagination.Page != 1 || len(res.Items) != 0 {
		t.Fatalf("expected page 1 with no items, got %+v", res.Pagination)
	}
}

func TestContentServiceListIncludesViewerState(t *testing.T) {
	gdb := setupServiceTestDB(t)
	ledger := NewInteractionService(gdb)
	svc := NewContentService(gdb, permission.ModuleForum, ledger)
	ctx := context.Background()

	item, err := svc.Create(ctx, ContentInput{Title: "Liked Post"}, memberB)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := ledger.Toggle(ctx, permission.ModuleForum, memberA.ID, item.ID, db.ActionLike); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	res, err := svc.List(ctx, ContentFilter{ViewerID: memberA.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Interactions == nil || !res.Items[0].Interactions.IsLiked {
		t.Fatalf("expected viewer like state, got %+v", res.Items)
	}

	anon, err := svc.List(ctx, ContentFilter{})
	if err != nil {
		t.Fatalf("list anon: %v", err)
	}
	if anon.Items[0].Interactions != nil {
		t.Fatalf("expected no interaction state for anonymous listing")
	}

	got, err := svc.GetBySlug(ctx, item.Slug, memberA.ID, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Interactions == nil || !got.Interactions.IsLiked || got.Stats.LikesCount != 1 {
		t.Fatalf("expected like reflected on detail, got %+v / %+v", got.Interactions, got.Stats)
	}
}

func TestContentServiceStats(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := newTestContentService(gdb, permission.ModuleDex)
	ctx := context.Background()

	for _, input := range []ContentInput{
		{Title: "Slime"},
		{Title: "Goblin"},
		{Title: "Hidden Boss", Status: db.StatusDraft},
		{Title: "Retired Mob", Status: db.StatusArchived},
	} {
		if _, err := svc.Create(ctx, input, Author{ID: "admin"}); err != nil {
			t.Fatalf("create %q: %v", input.Title, err)
		}
	}
	if err := svc.Delete(ctx, "goblin", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.ledger.RecordView(ctx, permission.ModuleDex, "", mustID(t, svc, "slime")); err != nil {
		t.Fatalf("record view: %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Published != 1 || stats.Drafts != 1 || stats.Archived != 1 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if stats.ViewsCount != 1 {
		t.Fatalf("expected 1 view, got %d", stats.ViewsCount)
	}
}

func mustID(t *testing.T, svc *ContentService, slug string) string {
	t.Helper()
	item, err := svc.GetBySlug(context.Background(), slug, "", true)
	if err != nil {
		t.Fatalf("lookup %q: %v", slug, err)
	}
	return item.ID
}

func titles(items []db.ContentItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Title)
	}
	return out
}
