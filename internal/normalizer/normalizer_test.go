package normalizer

import (
	"testing"
	"time"

	"fab/enumerator/internal/domain"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPartition() domain.Partition {
	return domain.Partition{
		Category: domain.CategoryNode{Name: "Environment Props", TypePath: "3d-model/environment-props"},
		Range:    &domain.PriceRange{Min: 10},
		Sort:     domain.SortPriceAsc,
	}
}

func newTestNormalizer() *Normalizer {
	n := New("USD")
	n.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return n
}

func TestNormalize_FullItem(t *testing.T) {
	item := domain.RawItem(`{
		"uid": "0b7c2f1e",
		"title": "  Medieval Crates ",
		"startingPrice": {"price": "14.99", "currencyCode": "EUR"},
		"user": {"displayName": "Acme Studio"},
		"averageRating": 4.5,
		"reviewCount": 12,
		"isMature": false,
		"availableInEurope": true,
		"tags": [{"name": "props"}, {"name": ""}, {"name": "medieval"}],
		"assetFormats": [{
			"technicalSpecs": {
				"unrealEngineDistributionMethod": "asset-pack",
				"unrealEngineEngineVersions": ["UE_5.3", "UE_5.4"],
				"unrealEngineTargetPlatforms": ["Windows"],
				"technicalDetails": "<p>Ten <b>crates</b></p>\n<p>PBR textures</p>"
			}
		}],
		"publishedAt": "2024-05-01T10:00:00Z",
		"updatedAt": "2025-01-11T08:30:00Z"
	}`)

	record, err := newTestNormalizer().Normalize(item, testPartition())
	require.NoError(t, err)

	assert.Equal(t, "0b7c2f1e", record.ID)
	assert.Equal(t, "Medieval Crates", record.Title)
	require.NotNil(t, record.Price)
	assert.InDelta(t, 14.99, *record.Price, 1e-9)
	assert.Equal(t, "EUR", record.Currency)
	assert.Equal(t, "Acme Studio", record.Seller)
	assert.Equal(t, "Environment Props", record.Subcategory)
	require.NotNil(t, record.Rating)
	assert.Equal(t, 4.5, *record.Rating)
	assert.Equal(t, 12, record.Reviews)
	assert.True(t, record.AvailableInEurope)
	assert.Equal(t, []string{"props", "medieval"}, record.Tags)
	assert.Equal(t, "asset-pack", record.DistributionMethod)
	assert.Equal(t, []string{"UE_5.3", "UE_5.4"}, record.EngineVersions)
	assert.Equal(t, []string{"Windows"}, record.TargetPlatforms)
	assert.Equal(t, "Ten crates PBR textures", record.Description)
	assert.Equal(t, "Environment Props - 3d-model/environment-props", record.CategoryKey)
	assert.Equal(t, "Environment Props - 3d-model/environment-props|10-inf|price", record.PartitionKey)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), record.FetchedAt)
}

func TestNormalize_SparseItem(t *testing.T) {
	item := domain.RawItem(`{"title":"Free Pack","startingPrice":{"price":0},"averageRating":null}`)

	record, err := newTestNormalizer().Normalize(item, testPartition())
	require.NoError(t, err)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "USD", record.Currency)
	assert.Equal(t, "Unknown", record.Seller)
	require.NotNil(t, record.Price)
	assert.Equal(t, 0.0, *record.Price)
	assert.Nil(t, record.Rating)
	assert.Empty(t, record.Description)
}

func TestNormalize_IDWithoutUIDIsStable(t *testing.T) {
	item := domain.RawItem(`{"title":"No uid"}`)
	n := newTestNormalizer()

	first, err := n.Normalize(item, testPartition())
	require.NoError(t, err)
	second, err := n.Normalize(item, testPartition())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestNormalize_InvalidJSON(t *testing.T) {
	_, err := newTestNormalizer().Normalize(domain.RawItem(`[1,2`), testPartition())
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestTitleFromSlug(t *testing.T) {
	assert.Equal(t, "Environment Props", titleFromSlug("environment-props"))
	assert.Equal(t, "Audio", titleFromSlug("audio"))
	assert.Equal(t, "", titleFromSlug(""))
}

func TestNormalize_PriceOutsideRangeIsKept(t *testing.T) {
	hook := logtest.NewGlobal()
	level := log.GetLevel()
	log.SetLevel(log.DebugLevel)
	t.Cleanup(func() {
		log.SetLevel(level)
		hook.Reset()
	})

	record, err := newTestNormalizer().Normalize(domain.RawItem(`{"uid":"cheap","startingPrice":{"price":4.99}}`), testPartition())
	require.NoError(t, err)
	require.NotNil(t, record.Price)
	assert.Equal(t, 4.99, *record.Price)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Contains(t, entry.Message, "outside range 10-inf")
}
