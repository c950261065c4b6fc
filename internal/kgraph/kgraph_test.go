package kgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/docmemory/internal/apperr"
)

func TestGraph_FindRelated_UnknownDocumentIsNotFound(t *testing.T) {
	g := New()
	_, err := g.FindRelated("missing", 0, 0)
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestGraph_UpsertRejectsEmptyID(t *testing.T) {
	g := New()
	err := g.Upsert("", "content", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestGraph_FindRelated_SharedEntitiesLinkDocuments(t *testing.T) {
	g := New()
	require.NoError(t, g.Upsert("doc-a", "kubernetes clusters scale workloads automatically", nil, nil))
	require.NoError(t, g.Upsert("doc-b", "kubernetes clusters orchestrate containers reliably", nil, nil))
	require.NoError(t, g.Upsert("doc-c", "unrelated topic about gardening and soil", nil, nil))

	related, err := g.FindRelated("doc-a", 2, MinEdgeWeight)
	require.NoError(t, err)

	var ids []string
	for _, r := range related {
		ids = append(ids, r.DocumentID)
	}
	assert.Contains(t, ids, "doc-b")
	assert.NotContains(t, ids, "doc-c")
}

func TestGraph_FindRelated_SortedByRelevanceDescending(t *testing.T) {
	g := New()
	require.NoError(t, g.Upsert("doc-a", "alpha beta gamma delta alpha beta", nil, nil))
	require.NoError(t, g.Upsert("doc-b", "alpha beta gamma delta alpha beta", nil, nil))
	require.NoError(t, g.Upsert("doc-c", "alpha only appears once here", nil, nil))

	related, err := g.FindRelated("doc-a", 2, MinEdgeWeight)
	require.NoError(t, err)
	for i := 1; i < len(related); i++ {
		assert.GreaterOrEqual(t, related[i-1].RelevanceScore, related[i].RelevanceScore)
	}
}

func TestGraph_RemoveDropsDocumentFromTraversal(t *testing.T) {
	g := New()
	require.NoError(t, g.Upsert("doc-a", "widget factory assembly line", nil, nil))
	require.NoError(t, g.Upsert("doc-b", "widget factory assembly robots", nil, nil))

	g.Remove("doc-b")

	related, err := g.FindRelated("doc-a", 2, MinEdgeWeight)
	require.NoError(t, err)
	for _, r := range related {
		assert.NotEqual(t, "doc-b", r.DocumentID)
	}
}

func TestGraph_RemovePrunesOrphanedEntityNode(t *testing.T) {
	g := New()
	require.NoError(t, g.Upsert("doc-a", "widget factory assembly line", nil, nil))

	g.mu.RLock()
	_, hadWidget := g.nodes[entityNodeID("widget")]
	g.mu.RUnlock()
	require.True(t, hadWidget)

	g.Remove("doc-a")

	g.mu.RLock()
	_, stillThere := g.nodes[entityNodeID("widget")]
	g.mu.RUnlock()
	assert.False(t, stillThere, "entity node should be pruned once its last document is removed")
}

func TestGraph_UpsertPrunesEntityDroppedFromReplacedContent(t *testing.T) {
	g := New()
	require.NoError(t, g.Upsert("doc-a", "astronomy telescopes stars", nil, nil))
	require.NoError(t, g.Upsert("doc-a", "completely different subject culinary recipes", nil, nil))

	g.mu.RLock()
	_, stillThere := g.nodes[entityNodeID("astronomy")]
	g.mu.RUnlock()
	assert.False(t, stillThere, "entity only referenced by the replaced content should be pruned")
}

func TestGraph_UpsertReplacesPreviousEntities(t *testing.T) {
	g := New()
	require.NoError(t, g.Upsert("doc-a", "original content about astronomy", nil, nil))
	require.NoError(t, g.Upsert("doc-b", "astronomy telescopes stars", nil, nil))

	related, err := g.FindRelated("doc-a", 2, MinEdgeWeight)
	require.NoError(t, err)
	require.NotEmpty(t, related)

	// Replace doc-a's content entirely; it should no longer relate to doc-b.
	require.NoError(t, g.Upsert("doc-a", "completely different subject culinary recipes", nil, nil))
	related, err = g.FindRelated("doc-a", 2, MinEdgeWeight)
	require.NoError(t, err)
	for _, r := range related {
		assert.NotEqual(t, "doc-b", r.DocumentID)
	}
}

func TestExtractEntities_FloorsAtMinEdgeWeight(t *testing.T) {
	entities := extractEntities("alpha beta gamma delta", []string{"alpha"})
	for _, w := range entities {
		assert.GreaterOrEqual(t, w, MinEdgeWeight)
	}
}

func TestExtractEntities_FiltersShortWords(t *testing.T) {
	entities := extractEntities("a an the of it is to be", nil)
	assert.Empty(t, entities)
}
