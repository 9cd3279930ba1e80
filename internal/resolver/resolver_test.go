package resolver

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"FlowtrackAPI/internal/db"
	"FlowtrackAPI/internal/filter"
	"FlowtrackAPI/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/google/go-cmp/cmp"
)

func TestRankPositionsAndDefault(t *testing.T) {
	keys := []string{"a", "b", "c"}

	desc := BuildRankExpression("main.autoid", keys, true)
	asc := BuildRankExpression("main.autoid", keys, false)
	for i, k := range keys {
		if got := desc.Of(k); got != i+1 {
			t.Fatalf("rank of %s = %d, want %d", k, got, i+1)
		}
	}
	if desc.Of("zzz") != len(keys)+2 || desc.Default() != 5 {
		t.Fatalf("descending default rank = %d, want %d", desc.Of("zzz"), len(keys)+2)
	}
	if asc.Of("zzz") != -1 {
		t.Fatalf("ascending default rank = %d, want -1", asc.Of("zzz"))
	}

	// новый порядок - новые ранги, без утечек между вызовами
	again := BuildRankExpression("main.autoid", []string{"c", "a", "b"}, true)
	if again.Of("c") != 1 || again.Of("a") != 2 || desc.Of("c") != 3 {
		t.Fatalf("ranks leaked between calls: c=%d a=%d old c=%d", again.Of("c"), again.Of("a"), desc.Of("c"))
	}
}

func TestRankSQL(t *testing.T) {
	r := BuildRankExpression("main.autoid", []string{"3", "1"}, true)
	sql, args, err := r.ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	want := "CASE main.autoid WHEN ? THEN 1 WHEN ? THEN 2 ELSE 4 END"
	if sql != want {
		t.Fatalf("unexpected SQL:\n got %s\nwant %s", sql, want)
	}
	if diff := cmp.Diff([]any{"3", "1"}, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
	if BuildRankExpression("main.autoid", nil, true) != nil {
		t.Fatal("empty key list must not produce a rank")
	}
}

func workflowSpec(t *testing.T, f *fixture, entity string, raw map[string]any, ordering ...string) *filter.Spec {
	t.Helper()
	def, err := f.cat.Filter(entity, "list")
	if err != nil {
		t.Fatal(err)
	}
	spec, err := filter.NewAt(def, raw, ordering, testNow)
	if err != nil {
		t.Fatalf("NewAt: %v", err)
	}
	return spec
}

func TestResolveNoRestriction(t *testing.T) {
	f := newFixture(t)
	r := &KeySetResolver{Store: f.workflow}

	ks, err := r.Resolve(context.Background(), workflowSpec(t, f, "item", nil), false)
	if err != nil {
		t.Fatal(err)
	}
	if ks != nil {
		t.Fatalf("expected no restriction, got %+v", ks)
	}
}

func TestResolveValueConstrained(t *testing.T) {
	f := newFixture(t)
	r := &KeySetResolver{Store: f.workflow}

	spec := workflowSpec(t, f, "item", map[string]any{"status": "Done"}, "-priority")
	ks, err := r.Resolve(context.Background(), spec, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&KeySet{Keys: []string{"3", "1"}, Ordered: true, Restrict: true}, ks); diff != "" {
		t.Fatalf("keyset mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveEmptyUsesSentinel(t *testing.T) {
	f := newFixture(t)
	r := &KeySetResolver{Store: f.workflow}

	ks, err := r.Resolve(context.Background(), workflowSpec(t, f, "item", map[string]any{"status": "Shipped"}), false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{NoMatchKey}, ks.Keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	if !ks.Restrict {
		t.Fatal("sentinel key set must still restrict")
	}
}

func TestResolveExclude(t *testing.T) {
	f := newFixture(t)
	r := &KeySetResolver{Store: f.workflow}

	ks, err := r.Resolve(context.Background(), workflowSpec(t, f, "item", map[string]any{"is_scheduled": false}, "priority"), false)
	if err != nil {
		t.Fatal(err)
	}
	if !ks.Exclude {
		t.Fatal("expected exclude flag")
	}
	if diff := cmp.Diff([]string{"1", "3"}, ks.Keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveOrderingOnly(t *testing.T) {
	f := newFixture(t)
	r := &KeySetResolver{Store: f.workflow}
	spec := workflowSpec(t, f, "item", nil, "-priority")

	if spec.IsFiltering() {
		t.Fatal("spec with only ordering must not be filtering")
	}
	first, err := r.Resolve(context.Background(), spec, false)
	if err != nil || first != nil {
		t.Fatalf("expected no value restriction, got %+v, %v", first, err)
	}
	ks, err := r.Resolve(context.Background(), spec, true)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&KeySet{Keys: []string{"5", "3", "1"}, Ordered: true}, ks); diff != "" {
		t.Fatalf("keyset mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveOrderingOnlyWithoutOrdering(t *testing.T) {
	f := newFixture(t)
	r := &KeySetResolver{Store: f.workflow}

	ks, err := r.Resolve(context.Background(), workflowSpec(t, f, "item", nil), true)
	if err != nil || ks != nil {
		t.Fatalf("expected nil, got %+v, %v", ks, err)
	}
}

// Статус Done у приоритетов 1 и 3, сортировка -priority: строки legacy
// идут 3, 1, а неранжированная 5 уходит в конец.
func TestRankRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wspec := workflowSpec(t, f, "item", map[string]any{"status": "Done"}, "-priority")
	ks, err := (&KeySetResolver{Store: f.workflow}).Resolve(ctx, wspec, false)
	if err != nil {
		t.Fatal(err)
	}
	rank := BuildRankExpression("main.autoid", ks.Keys, filter.ParseToken(wspec.Requested()[0]).Desc)

	lspec := workflowSpec(t, f, "order_item", map[string]any{"autoid__in": "5,1,3"})
	cc := filter.NewContext()
	sb := filter.Base(lspec.Def().Entity(), cc).Columns("main.autoid")
	if sb, err = filter.CompileWhere(lspec, sb, cc); err != nil {
		t.Fatal(err)
	}
	keys, err := f.legacy.QueryKeys(ctx, sb.OrderByClause(rank))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"3", "1", "5"}, keys); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestLegacyOrderingAroundRank(t *testing.T) {
	f := newFixture(t)
	def, _ := f.cat.Filter("order_item", "list")
	rank := BuildRankExpression("main.autoid", []string{"3", "1"}, true)

	cases := []struct {
		name     string
		ordering []string
		want     string
	}{
		{"legacy tokens first", []string{"quantity", "-priority"}, "ORDER BY main.quan ASC, CASE main.autoid"},
		{"rank leads default", []string{"-priority"}, "ELSE 4 END, invoice.invoice DESC"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := filter.NewAt(def, nil, tc.ordering, testNow)
			if err != nil {
				t.Fatal(err)
			}
			cc := filter.NewContext()
			sb := filter.Base(def.Entity(), cc).Columns("main.autoid")
			sb, err = f.engine.order(spec, sb, cc, rank)
			if err != nil {
				t.Fatal(err)
			}
			sql, _, _ := sb.ToSql()
			if !strings.Contains(sql, tc.want) {
				t.Fatalf("expected %q in SQL:\n%s", tc.want, sql)
			}
		})
	}
}

func TestListItemsConstrainedByWorkflow(t *testing.T) {
	f := newFixture(t)

	page, err := f.engine.List(context.Background(), ListRequest{
		Listing:  ListingItems,
		Workflow: map[string]any{"status": "Done"},
		Ordering: Tokens{"-priority"},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Count != 2 {
		t.Fatalf("expected count 2, got %d", page.Count)
	}
	if diff := cmp.Diff([]string{"3", "1"}, rowKeys(page.Results, "autoid")); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	first := page.Results[0]
	if first["completed"] != true || first["comments"] != int64(1) || first["category"] != "Gutter" {
		t.Fatalf("unexpected annotation: %#v", first)
	}
	item, _ := first["item"].(map[string]any)
	if item["stage"] != "Done" || item["priority"] != int64(3) {
		t.Fatalf("unexpected item snapshot: %#v", first["item"])
	}
}

func TestListItemsOrderingOnly(t *testing.T) {
	f := newFixture(t)

	page, err := f.engine.List(context.Background(), ListRequest{
		Listing:  ListingItems,
		Ordering: Tokens{"-priority"},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	// вентиляция отсечена scope, счёт 50 - границей since
	if page.Count != 4 {
		t.Fatalf("expected count 4, got %d", page.Count)
	}
	if diff := cmp.Diff([]string{"5", "3", "1", "7"}, rowKeys(page.Results, "autoid")); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	last := page.Results[3]
	if last["completed"] != false || last["item"] != nil || last["comments"] != int64(0) {
		t.Fatalf("row without workflow record must carry defaults: %#v", last)
	}
}

func TestListItemsExclude(t *testing.T) {
	f := newFixture(t)

	page, err := f.engine.List(context.Background(), ListRequest{
		Listing:  ListingItems,
		Workflow: map[string]any{"is_scheduled": false},
		Legacy:   map[string]any{"categories": "Trim,Gutter"},
		Ordering: Tokens{"quantity"},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]string{"5", "7"}, rowKeys(page.Results, "autoid")); diff != "" {
		t.Fatalf("unscheduled rows mismatch (-want +got):\n%s", diff)
	}
}

func TestListPaging(t *testing.T) {
	f := newFixture(t)

	page, err := f.engine.List(context.Background(), ListRequest{
		Listing:  ListingItems,
		Ordering: Tokens{"-priority"},
		Limit:    2,
		Offset:   1,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Count != 4 {
		t.Fatalf("count must ignore paging, got %d", page.Count)
	}
	if diff := cmp.Diff([]string{"3", "1"}, rowKeys(page.Results, "autoid")); diff != "" {
		t.Fatalf("page mismatch (-want +got):\n%s", diff)
	}
}

func TestListDuplicateOrdering(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.List(context.Background(), ListRequest{
		Listing:  ListingItems,
		Ordering: Tokens{"priority,-priority"},
	})
	var ve *filter.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if diff := cmp.Diff([]string{"priority", "-priority"}, ve.Tokens); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)

	page, err := f.engine.List(context.Background(), ListRequest{Listing: ListingOrders})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]string{"200", "100"}, rowKeys(page.Results, "autoid")); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	beta, acme := page.Results[0], page.Results[1]

	if acme["completed"] != true || acme["done_items"] != int64(2) || acme["comments"] != int64(3) {
		t.Fatalf("unexpected aggregates for 100: %#v", acme)
	}
	if acme["start_date"] != "2024-03-01" || acme["end_date"] != "2024-03-05" {
		t.Fatalf("unexpected schedule for 100: %v..%v", acme["start_date"], acme["end_date"])
	}
	so, _ := acme["sales_order"].(map[string]any)
	if so["priority"] != int64(2) {
		t.Fatalf("unexpected sales_order snapshot: %#v", acme["sales_order"])
	}
	if acme["count_items"] != int64(2) || len(acme["details"].([]map[string]any)) != 2 {
		t.Fatalf("unexpected details for 100: %#v", acme["details"])
	}

	if beta["completed"] != false || beta["start_date"] != nil || beta["sales_order"] != nil || beta["comments"] != int64(0) {
		t.Fatalf("unexpected aggregates for 200: %#v", beta)
	}
	if beta["count_items"] != int64(2) || beta["done_items"] != int64(0) {
		t.Fatalf("unexpected counts for 200: %v/%v", beta["done_items"], beta["count_items"])
	}
}

func TestOrderCountsOnlyListedLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.workflow.Exec(ctx, squirrel.Expr(`
UPDATE item SET stage_id = 2, production_date = '2024-03-12' WHERE origin_item = '5';
INSERT INTO item VALUES (4, '7', '200', 1, 2, 4, '2024-03-08');`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	page, err := f.engine.List(ctx, ListRequest{Listing: ListingItems})
	if err != nil {
		t.Fatalf("List items: %v", err)
	}
	var listed []string
	for _, r := range page.Results {
		if db.KeyString(r["doc_aid"]) == "200" {
			listed = append(listed, db.KeyString(r["autoid"]))
		}
	}
	slices.Sort(listed)

	order, err := f.engine.Get(ctx, ListingOrders, "200")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	details, _ := order["details"].([]map[string]any)
	if diff := cmp.Diff(listed, rowKeys(toRows(details), "autoid")); diff != "" {
		t.Fatalf("details differ from listed lines (-listed +details):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"5", "7"}, listed); diff != "" {
		t.Fatalf("listed lines mismatch (-want +got):\n%s", diff)
	}
	if order["count_items"] != int64(2) || order["done_items"] != int64(2) || order["completed"] != true {
		t.Fatalf("unexpected counts: count=%v done=%v completed=%v", order["count_items"], order["done_items"], order["completed"])
	}
	if order["start_date"] != "2024-03-08" || order["end_date"] != "2024-03-12" {
		t.Fatalf("unexpected schedule: %v..%v", order["start_date"], order["end_date"])
	}
	item, _ := details[1]["item"].(map[string]any)
	if details[1]["completed"] != true || item["stage"] != "Done" {
		t.Fatalf("unexpected line 7: %#v", details[1])
	}
	if _, ok := item["completed"]; ok {
		t.Fatalf("item snapshot leaks completed column: %#v", item)
	}
}

func TestOrderWithoutListedLines(t *testing.T) {
	f := newFixture(t)
	rows := []db.Row{{"autoid": "999"}}

	m := &Merger{Store: f.workflow, Legacy: f.legacy, Aggregates: f.engine.Listing(ListingOrders).Aggregates}
	if _, err := m.Merge(context.Background(), rows, []string{"999"}); err != nil {
		t.Fatal(err)
	}
	row := rows[0]
	if row["count_items"] != int64(0) || row["done_items"] != int64(0) || row["completed"] != false || row["start_date"] != nil {
		t.Fatalf("unexpected defaults: %#v", row)
	}
	if d, ok := row["details"].([]map[string]any); !ok || len(d) != 0 {
		t.Fatalf("details = %#v, want empty list", row["details"])
	}
}

func toRows(in []map[string]any) []db.Row {
	out := make([]db.Row, len(in))
	for i, m := range in {
		out[i] = m
	}
	return out
}

func TestListOrdersNestedWorkflow(t *testing.T) {
	f := newFixture(t)

	page, err := f.engine.List(context.Background(), ListRequest{
		Listing:  ListingOrders,
		Workflow: map[string]any{"items": map[string]any{"status": "Done"}},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]string{"100"}, rowKeys(page.Results, "autoid")); diff != "" {
		t.Fatalf("orders mismatch (-want +got):\n%s", diff)
	}
}

func TestGet(t *testing.T) {
	f := newFixture(t)

	row, err := f.engine.Get(context.Background(), ListingItems, "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row["invoice"] != "INV-100" || row["comments"] != int64(2) || row["completed"] != true {
		t.Fatalf("unexpected row: %#v", row)
	}

	for _, key := range []string{"404", "8", "9", " "} {
		if _, err := f.engine.Get(context.Background(), ListingItems, key); !errors.Is(err, db.ErrNotFound) {
			t.Fatalf("Get(%q): expected ErrNotFound, got %v", key, err)
		}
	}
}

func TestUnknownListing(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.List(context.Background(), ListRequest{Listing: "invoices"}); !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestMergeRejectsMisalignedKeys(t *testing.T) {
	m := &Merger{}
	_, err := m.Merge(context.Background(), []db.Row{{"autoid": "1"}}, nil)
	if !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestMergeRejectsFanOut(t *testing.T) {
	f := newFixture(t)
	m := &Merger{Store: f.workflow, Aggregates: []Aggregate{{
		Name: "raw_comments",
		Query: func(keys []string) squirrel.SelectBuilder {
			return squirrel.Select("i.origin_item AS "+AggKey, "c.text").
				From("item AS i").
				Join("comment AS c ON c.item_id = i.id").
				Where(squirrel.Eq{"i.origin_item": keys})
		},
		Attach: func(db.Row, db.Row) {},
	}}}
	_, err := m.Merge(context.Background(), []db.Row{{"autoid": "1"}}, []string{"1"})
	if !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestMergeKeepsRowCount(t *testing.T) {
	f := newFixture(t)
	listing := f.engine.Listing(ListingOrders)
	rows := []db.Row{{"autoid": "100"}, {"autoid": "100"}}

	m := &Merger{Store: f.workflow, Legacy: f.legacy, Aggregates: listing.Aggregates}
	got, err := m.Merge(context.Background(), rows, []string{"100", "100"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0]["comments"] != int64(3) || got[1]["completed"] != true {
		t.Fatalf("unexpected merge result: %#v", got)
	}
}

func TestTokensJSON(t *testing.T) {
	var a, b struct {
		Ordering Tokens `json:"order_by"`
	}
	if err := jsonUnmarshal(`{"order_by":"-priority,category"}`, &a); err != nil {
		t.Fatal(err)
	}
	if err := jsonUnmarshal(`{"order_by":["-priority","category"]}`, &b); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Tokens{"-priority,category"}, a.Ordering); diff != "" {
		t.Fatalf("string form mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Tokens{"-priority", "category"}, b.Ordering); diff != "" {
		t.Fatalf("list form mismatch (-want +got):\n%s", diff)
	}
	if err := jsonUnmarshal(`{"order_by":5}`, &a); err == nil {
		t.Fatal("expected error for numeric order_by")
	}
}
