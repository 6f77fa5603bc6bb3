package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/permission"
	"github.com/monsterhub/internal/service"
)

func TestGetTagsCountsPublishedOnly(t *testing.T) {
	api, _ := setupTestAPI(t)
	r := newTestEngine(api)

	for _, body := range []map[string]any{
		{"title": "Build A", "tags": []string{"pvp", "meta"}},
		{"title": "Build B", "tags": []string{"pvp"}},
		{"title": "Build C", "tags": []string{"meta"}, "status": "draft"},
	} {
		w := perform(t, r, http.MethodPost, "/api/forum/posts", "alice:member", body)
		if w.Code != http.StatusCreated {
			t.Fatalf("create %v: %d %s", body["title"], w.Code, w.Body.String())
		}
	}

	w := perform(t, r, http.MethodGet, "/api/forum/tags", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var data struct {
		Tags []service.TagUsage `json:"tags"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &data); err != nil {
		t.Fatalf("decode tags: %v", err)
	}
	if len(data.Tags) != 2 || data.Tags[0].Name != "pvp" || data.Tags[0].Count != 2 || data.Tags[1].Count != 1 {
		t.Fatalf("unexpected tag usage %+v", data.Tags)
	}
	if w.Header().Get("Cache-Tag") != "forum" {
		t.Fatalf("unexpected cache tag %q", w.Header().Get("Cache-Tag"))
	}

	w = perform(t, r, http.MethodGet, "/api/wiki/tags", "", nil)
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &data); err != nil {
		t.Fatalf("decode tags: %v", err)
	}
	if data.Tags == nil || len(data.Tags) != 0 {
		t.Fatalf("expected empty tag list, got %+v", data.Tags)
	}
}

func TestGetStats(t *testing.T) {
	api, gdb := setupTestAPI(t)
	r := newTestEngine(api)
	seedItem(t, gdb, permission.ModuleDex, "Slime", "root", db.StatusPublished)
	seedItem(t, gdb, permission.ModuleDex, "Golem", "root", db.StatusDraft)

	w := perform(t, r, http.MethodGet, "/api/stats/dex", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats service.ModuleStats
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 2 || stats.Published != 1 || stats.Drafts != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	w = perform(t, r, http.MethodGet, "/api/stats/shop", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown module, got %d", w.Code)
	}
}

func TestSearchAndPopularQueries(t *testing.T) {
	api, gdb := setupTestAPI(t)
	r := newTestEngine(api)
	seedItem(t, gdb, permission.ModuleWiki, "Dragon Raid Guide", "root", db.StatusPublished)
	seedItem(t, gdb, permission.ModuleForum, "Dragon drops?", "alice", db.StatusPublished)
	seedItem(t, gdb, permission.ModuleForum, "Dragon secrets", "alice", db.StatusDraft)

	var data struct {
		Results []service.SearchHit `json:"results"`
	}

	w := perform(t, r, http.MethodGet, "/api/search?q=dragon", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &data); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(data.Results) != 2 {
		t.Fatalf("expected 2 published hits, got %+v", data.Results)
	}

	w = perform(t, r, http.MethodGet, "/api/search?q=Dragon&type=wiki", "", nil)
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &data); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(data.Results) != 1 || data.Results[0].Module != permission.ModuleWiki {
		t.Fatalf("expected wiki hit only, got %+v", data.Results)
	}

	if w := perform(t, r, http.MethodGet, "/api/search?q=", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %d", w.Code)
	}
	if w := perform(t, r, http.MethodGet, "/api/search?q=x&type=shop", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", w.Code)
	}

	w = perform(t, r, http.MethodGet, "/api/search/popular", "", nil)
	var popular struct {
		Queries []service.PopularQuery `json:"queries"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &popular); err != nil {
		t.Fatalf("decode popular: %v", err)
	}
	if len(popular.Queries) == 0 || popular.Queries[0].Query != "dragon" || popular.Queries[0].Count != 2 {
		t.Fatalf("unexpected popular queries %+v", popular.Queries)
	}
}
