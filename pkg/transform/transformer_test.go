package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/component-daktela/pkg/config"
	"github.com/keboola/component-daktela/pkg/models"
)

func ticketEndpoint() config.Endpoint {
	return config.Endpoint{Name: "tickets", PrimaryKeys: []string{"name"}}
}

func TestFlatten(t *testing.T) {
	raw := models.RawRecord{
		"name": "tickets_1",
		"user": map[string]interface{}{
			"alias": "jdoe",
			"group": map[string]interface{}{
				"title": "Support",
			},
		},
	}

	flat := Flatten(raw)
	assert.Equal(t, "tickets_1", flat["name"])
	assert.Equal(t, "jdoe", flat["user_alias"])
	assert.Equal(t, "Support", flat["user_group_title"])
}

func TestFlattenDepthCap(t *testing.T) {
	raw := models.RawRecord{
		"a": map[string]interface{}{
			"b": map[string]interface{}{
				"c": map[string]interface{}{
					"d": "deep",
				},
			},
		},
	}

	flat := Flatten(raw)
	// The third nesting level is kept as a JSON string
	require.Contains(t, flat, "a_b_c")
	assert.JSONEq(t, `{"d":"deep"}`, flat["a_b_c"].(string))
}

func TestCleanHTML(t *testing.T) {
	row := models.Row{
		"description": "<p>Hello <b>world</b></p>",
		"empty":       "<br/> \n ",
		"plain":       "untouched",
		"number":      42,
	}

	cleaned := CleanHTML(row)
	assert.Equal(t, "Hello world", cleaned["description"])
	assert.Nil(t, cleaned["empty"])
	assert.Equal(t, "untouched", cleaned["plain"])
	assert.Equal(t, 42, cleaned["number"])
}

func TestCleanHTMLBlankString(t *testing.T) {
	cleaned := CleanHTML(models.Row{"note": "   "})
	assert.Nil(t, cleaned["note"])
}

func TestCleanHTMLLeavesListElements(t *testing.T) {
	// Only top-level strings are cleaned
	cleaned := CleanHTML(models.Row{
		"tags": []interface{}{"<i>vip</i>", "plain"},
	})
	items := cleaned["tags"].([]interface{})
	assert.Equal(t, "<i>vip</i>", items[0])
	assert.Equal(t, "plain", items[1])
}

func TestExplodeLists(t *testing.T) {
	row := models.Row{
		"name": "contacts_1",
		"tags": []interface{}{"vip", "priority"},
	}

	rows := ExplodeLists(row, []string{"tags"})
	require.Len(t, rows, 2)
	assert.Equal(t, "vip", rows[0]["tags"])
	assert.Equal(t, "priority", rows[1]["tags"])
	assert.Equal(t, "contacts_1", rows[0]["name"])
}

func TestExplodeListsUnconfiguredPassthrough(t *testing.T) {
	row := models.Row{
		"name": "contacts_1",
		"tag":  []interface{}{"x", "y"},
	}

	rows := ExplodeLists(row, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, []interface{}{"x", "y"}, rows[0]["tag"])
}

func TestExplodeListsCrossProduct(t *testing.T) {
	row := models.Row{
		"a": []interface{}{"1", "2"},
		"b": []interface{}{"x", "y"},
	}

	rows := ExplodeLists(row, []string{"a", "b"})
	require.Len(t, rows, 4)

	// Configured order: column a varies slowest
	assert.Equal(t, "1", rows[0]["a"])
	assert.Equal(t, "x", rows[0]["b"])
	assert.Equal(t, "1", rows[1]["a"])
	assert.Equal(t, "y", rows[1]["b"])
	assert.Equal(t, "2", rows[2]["a"])
	assert.Equal(t, "x", rows[2]["b"])
}

func TestExplodeListsEmptyKeepsRow(t *testing.T) {
	rows := ExplodeLists(models.Row{
		"name": "contacts_1",
		"tags": []interface{}{},
	}, []string{"tags"})
	require.Len(t, rows, 1)
	assert.Equal(t, []interface{}{}, rows[0]["tags"])
	assert.Equal(t, "contacts_1", rows[0]["name"])
}

func TestExplodeListsNonListValueSkipped(t *testing.T) {
	rows := ExplodeLists(models.Row{
		"tags": "just a string",
	}, []string{"tags", "missing"})
	require.Len(t, rows, 1)
	assert.Equal(t, "just a string", rows[0]["tags"])
}

func TestExplodeObjectLists(t *testing.T) {
	row := models.Row{
		"name": "contacts_1",
		"numbers": []interface{}{
			map[string]interface{}{"number": "111", "type": "mobile"},
			map[string]interface{}{"number": "222", "type": "office"},
		},
	}

	rows := ExplodeObjectLists(row, []string{"numbers"})
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.NotContains(t, r, "numbers")
	}
	assert.Equal(t, "111", rows[0]["numbers_number"])
	assert.Equal(t, "mobile", rows[0]["numbers_type"])
	assert.Equal(t, "222", rows[1]["numbers_number"])
}

func TestExplodeObjectListsEmptyRemovesColumn(t *testing.T) {
	rows := ExplodeObjectLists(models.Row{
		"name":  "contacts_1",
		"items": []interface{}{},
	}, []string{"items"})
	require.Len(t, rows, 1)
	assert.NotContains(t, rows[0], "items")
	assert.NotContains(t, rows[0], "items_k")
	assert.Equal(t, "contacts_1", rows[0]["name"])
}

func TestExplodeObjectListsUnconfiguredPassthrough(t *testing.T) {
	row := models.Row{
		"name":    "contacts_1",
		"numbers": []interface{}{map[string]interface{}{"n": "1"}},
	}

	rows := ExplodeObjectLists(row, nil)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0], "numbers")
}

func TestExplodeObjectListsNonObjectElement(t *testing.T) {
	rows := ExplodeObjectLists(models.Row{
		"name":  "contacts_1",
		"items": []interface{}{"plain"},
	}, []string{"items"})
	require.Len(t, rows, 1)
	assert.NotContains(t, rows[0], "items")
}

func TestSanitizeColumn(t *testing.T) {
	assert.Equal(t, "name", SanitizeColumn("name"))
	assert.Equal(t, "user_alias", SanitizeColumn("user_alias"))
	assert.Equal(t, "na_me", SanitizeColumn("na me"))
	assert.Equal(t, "sla_deadline", SanitizeColumn("sla-deadline"))
	assert.Equal(t, "_1st_reply", SanitizeColumn("1st_reply"))
	assert.Equal(t, "m__sto", SanitizeColumn("město"))
	assert.Equal(t, "_", SanitizeColumn(""))
}

func TestSynthesizeID(t *testing.T) {
	tr := New(config.Endpoint{
		Name:          "activitiesCall",
		PrimaryKeys:   []string{"id_call"},
		SecondaryKeys: []string{"name"},
	})

	id := tr.SynthesizeID(models.Row{"id_call": "77", "name": "call_1"})
	assert.Equal(t, "77_call_1", id)

	// Absent secondary key is skipped
	id = tr.SynthesizeID(models.Row{"id_call": "77"})
	assert.Equal(t, "77", id)

	// No key values at all yields an empty id
	id = tr.SynthesizeID(models.Row{"other": "x"})
	assert.Equal(t, "", id)
}

func TestHasKeyFields(t *testing.T) {
	tr := New(ticketEndpoint())
	assert.True(t, tr.HasKeyFields(models.RawRecord{"name": "tickets_1"}))
	assert.False(t, tr.HasKeyFields(models.RawRecord{"name": ""}))
	assert.False(t, tr.HasKeyFields(models.RawRecord{"name": nil}))
	assert.False(t, tr.HasKeyFields(models.RawRecord{"title": "x"}))
}

func TestTransformPipeline(t *testing.T) {
	ep := ticketEndpoint()
	ep.ListColumns = []string{"tags"}
	tr := New(ep)
	raw := models.RawRecord{
		"name":        "tickets_9",
		"description": "<p>broken printer</p>",
		"user": map[string]interface{}{
			"alias": "jdoe",
		},
		"tags": []interface{}{"hw", "urgent"},
	}

	rows := tr.Transform(raw)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "tickets_9", row["id"])
		assert.Equal(t, "broken printer", row["description"])
		assert.Equal(t, "jdoe", row["user_alias"])
	}
	assert.Equal(t, "hw", rows[0]["tags"])
	assert.Equal(t, "urgent", rows[1]["tags"])
}

func TestTransformUnconfiguredListsSingleRow(t *testing.T) {
	tr := New(ticketEndpoint())
	rows := tr.Transform(models.RawRecord{
		"name": "tickets_9",
		"tag":  []interface{}{"x", "y"},
	})
	require.Len(t, rows, 1)
	assert.Equal(t, "tickets_9", rows[0]["id"])
}

func TestTransformInjectsIDColumn(t *testing.T) {
	tr := New(ticketEndpoint())
	rows := tr.Transform(models.RawRecord{"name": "tickets_9"})
	require.Len(t, rows, 1)
	assert.Equal(t, "tickets_9", rows[0]["id"])
}
