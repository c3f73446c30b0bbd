package store

import (
	"reflect"
	"testing"
)

func TestUpsertDeepMerge(t *testing.T) {
	tests := []struct {
		name    string
		patches []Record
		want    Record
	}{
		{
			name: "scalarReplaced",
			patches: []Record{
				{"status": "pending"},
				{"status": "paid"},
			},
			want: Record{"id": "o1", "status": "paid"},
		},
		{
			name: "nestedMapsMergeKeywise",
			patches: []Record{
				{"meta": map[string]any{"a": 1.0, "b": 2.0}},
				{"meta": map[string]any{"b": 3.0, "c": 4.0}},
			},
			want: Record{"id": "o1", "meta": map[string]any{"a": 1.0, "b": 3.0, "c": 4.0}},
		},
		{
			name: "arraysReplaceWholesale",
			patches: []Record{
				{"tags": []any{"a", "b"}},
				{"tags": []any{"c"}},
			},
			want: Record{"id": "o1", "tags": []any{"c"}},
		},
		{
			name: "disjointKeysAccumulate",
			patches: []Record{
				{"status": "pending"},
				{"total_amount": 12.5},
			},
			want: Record{"id": "o1", "status": "pending", "total_amount": 12.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			for _, patch := range tt.patches {
				s.Upsert(Orders, "o1", patch)
			}
			got, ok := s.Get(Orders, "o1")
			if !ok {
				t.Fatal("record missing after upsert")
			}
			if !reflect.DeepEqual(map[string]any(got), map[string]any(tt.want)) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpsertEmptyIDIgnored(t *testing.T) {
	s := New()
	s.Upsert(Orders, "", Record{"status": "pending"})
	if n := s.Count(Orders); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	s.Upsert(Orders, "o1", Record{"status": "pending"})

	got, _ := s.Get(Orders, "o1")
	got["status"] = "mutated"

	again, _ := s.Get(Orders, "o1")
	if again["status"] != "pending" {
		t.Errorf("stored record mutated through returned copy: %v", again["status"])
	}
}

func TestRemove(t *testing.T) {
	s := New()
	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.Upsert(Orders, "o1", Record{"status": "pending"})
	s.Remove(Orders, "o1")
	if _, ok := s.Get(Orders, "o1"); ok {
		t.Error("record still present after remove")
	}

	// Removing an absent id is silent.
	before := len(changes)
	s.Remove(Orders, "missing")
	if len(changes) != before {
		t.Errorf("remove of absent id notified %d extra changes", len(changes)-before)
	}
}

func TestListSortedByID(t *testing.T) {
	s := New()
	s.Upsert(Orders, "b", Record{})
	s.Upsert(Orders, "a", Record{})
	s.Upsert(Orders, "c", Record{})

	got := s.List(Orders)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i]["id"] != want {
			t.Errorf("list[%d] id = %v, want %s", i, got[i]["id"], want)
		}
	}
}

func TestListByIndex(t *testing.T) {
	s := New()
	s.Upsert(OrderItems, "i1", Record{"order_id": "o1"})
	s.Upsert(OrderItems, "i2", Record{"order_id": "o2"})
	s.Upsert(OrderItems, "i3", Record{"order_id": "o1"})

	got := s.ListByIndex(OrderItems, "order_id", "o1")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0]["id"] != "i1" || got[1]["id"] != "i3" {
		t.Errorf("unexpected ids: %v, %v", got[0]["id"], got[1]["id"])
	}
}

func TestReplaceID(t *testing.T) {
	t.Run("substitutesIdentity", func(t *testing.T) {
		s := New()
		s.Upsert(ChatMessages, "tmp:msg-1", Record{"message_text": "Hello", "provisional": true})

		ok := s.ReplaceID(ChatMessages, "tmp:msg-1", "m-42", Record{"provisional": false})
		if !ok {
			t.Fatal("ReplaceID = false, want true")
		}
		if _, found := s.Get(ChatMessages, "tmp:msg-1"); found {
			t.Error("provisional key still present")
		}
		rec, found := s.Get(ChatMessages, "m-42")
		if !found {
			t.Fatal("record missing under server id")
		}
		if rec["message_text"] != "Hello" || rec["provisional"] != false || rec["id"] != "m-42" {
			t.Errorf("unexpected record: %v", rec)
		}
	})

	t.Run("missingOldIDIsFalse", func(t *testing.T) {
		s := New()
		if s.ReplaceID(ChatMessages, "tmp:none", "m-1", nil) {
			t.Error("ReplaceID = true for absent old id")
		}
	})

	t.Run("mergesRacingConfirmedRecord", func(t *testing.T) {
		s := New()
		s.Upsert(ChatMessages, "tmp:msg-1", Record{"message_text": "Hello"})
		s.Upsert(ChatMessages, "m-42", Record{"delivery_status": "delivered"})

		s.ReplaceID(ChatMessages, "tmp:msg-1", "m-42", nil)
		rec, _ := s.Get(ChatMessages, "m-42")
		if rec["message_text"] != "Hello" || rec["delivery_status"] != "delivered" {
			t.Errorf("merge lost fields: %v", rec)
		}
		if s.Count(ChatMessages) != 1 {
			t.Errorf("count = %d, want 1", s.Count(ChatMessages))
		}
	})

	t.Run("notifiesRemoveThenUpsert", func(t *testing.T) {
		s := New()
		s.Upsert(ChatMessages, "tmp:msg-1", Record{})

		var kinds []ChangeKind
		var ids []string
		s.Subscribe(func(c Change) {
			kinds = append(kinds, c.Kind)
			ids = append(ids, c.ID)
		})
		s.ReplaceID(ChatMessages, "tmp:msg-1", "m-42", nil)

		wantKinds := []ChangeKind{ChangeRemove, ChangeUpsert}
		wantIDs := []string{"tmp:msg-1", "m-42"}
		if !reflect.DeepEqual(kinds, wantKinds) || !reflect.DeepEqual(ids, wantIDs) {
			t.Errorf("changes = %v %v, want %v %v", kinds, ids, wantKinds, wantIDs)
		}
	})
}

func TestSubscribeObservesUpserts(t *testing.T) {
	s := New()
	var got []Change
	s.Subscribe(func(c Change) { got = append(got, c) })

	s.Upsert(Orders, "o1", Record{"status": "pending"})
	if len(got) != 1 {
		t.Fatalf("changes = %d, want 1", len(got))
	}
	if got[0].Family != Orders || got[0].ID != "o1" || got[0].Kind != ChangeUpsert {
		t.Errorf("unexpected change: %+v", got[0])
	}
	if got[0].Record["status"] != "pending" {
		t.Errorf("change record = %v", got[0].Record)
	}
}

func TestRecordOfAndBindRoundTrip(t *testing.T) {
	type message struct {
		ID     string `json:"id"`
		Text   string `json:"message_text"`
		Sender string `json:"sender_type,omitempty"`
	}

	rec, err := RecordOf(message{Text: "hi", Sender: "user"})
	if err != nil {
		t.Fatalf("recordOf: %v", err)
	}
	if rec["message_text"] != "hi" || rec["sender_type"] != "user" {
		t.Errorf("record = %v", rec)
	}

	s := New()
	s.Upsert(ChatMessages, "m1", rec)
	stored, _ := s.Get(ChatMessages, "m1")

	var out message
	if err := stored.Bind(&out); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if out.ID != "m1" || out.Text != "hi" || out.Sender != "user" {
		t.Errorf("bound = %+v", out)
	}
}

func TestReset(t *testing.T) {
	s := New()
	s.Upsert(Orders, "o1", Record{})
	s.Upsert(Reservations, "r1", Record{})
	s.Reset()
	if s.Count(Orders) != 0 || s.Count(Reservations) != 0 {
		t.Error("records survived reset")
	}
}
