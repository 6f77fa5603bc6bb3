package service

import (
	"context"
	"testing"
	"time"

	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchAcrossModules(t *testing.T) {
	gdb := setupServiceTestDB(t)
	ctx := context.Background()

	seedContent(t, gdb, permission.ModuleForum, "Dragon raid party")
	seedContent(t, gdb, permission.ModuleDex, "Red Dragon")
	seedContent(t, gdb, permission.ModuleWiki, "Fishing basics")

	wiki := NewContentService(gdb, permission.ModuleWiki, nil)
	_, err := wiki.Create(ctx, ContentInput{Title: "Dragon secrets", Status: db.StatusDraft}, Author{ID: "admin"})
	require.NoError(t, err)

	popular := NewPopularQueries(8, time.Hour)
	svc := NewSearchService(gdb, popular)

	hits, err := svc.Search(ctx, "dragon", "", 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2, "drafts must not be searchable")

	hits, err = svc.Search(ctx, "DRAGON", permission.ModuleDex, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, permission.ModuleDex, hits[0].Module)
	assert.Equal(t, "red-dragon", hits[0].Slug)

	var verr *ValidationError
	_, err = svc.Search(ctx, "   ", "", 0)
	assert.ErrorAs(t, err, &verr)

	top := svc.Popular(5)
	require.Len(t, top, 1)
	assert.Equal(t, PopularQuery{Query: "dragon", Count: 2}, top[0])
}

func TestPopularQueriesOrderingAndBounds(t *testing.T) {
	popular := NewPopularQueries(2, time.Hour)

	popular.Record("slime")
	popular.Record("goblin")
	popular.Record("goblin")
	popular.Record("")

	top := popular.Top(10)
	require.Len(t, top, 2)
	assert.Equal(t, "goblin", top[0].Query)
	assert.Equal(t, 2, top[0].Count)

	// 超出容量时淘汰最久未使用的词
	popular.Record("dragon")
	top = popular.Top(10)
	require.Len(t, top, 2)
	for _, q := range top {
		assert.NotEqual(t, "slime", q.Query)
	}

	assert.Len(t, popular.Top(1), 1)
}
