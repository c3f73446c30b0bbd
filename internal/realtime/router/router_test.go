package router

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Payload
		wantErr bool
	}{
		{name: "emptyBody", data: "", want: Payload{}},
		{name: "nullBody", data: "null", want: Payload{}},
		{name: "object", data: `{"id":"o1"}`, want: Payload{"id": "o1"}},
		{name: "bareStringBecomesID", data: `"session-9"`, want: Payload{"id": "session-9"}},
		{name: "malformed", data: `{"id":`, wantErr: true},
		{name: "bareNumber", data: `42`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(json.RawMessage(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	p := Payload{"orderId": "o1", "numeric": 17.0, "empty": ""}

	tests := []struct {
		name string
		keys []string
		want string
	}{
		{name: "firstMatch", keys: []string{"orderId", "id"}, want: "o1"},
		{name: "fallbackOrder", keys: []string{"id", "orderId"}, want: "o1"},
		{name: "numericRendered", keys: []string{"numeric"}, want: "17"},
		{name: "emptySkipped", keys: []string{"empty", "orderId"}, want: "o1"},
		{name: "absent", keys: []string{"missing"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.String(tt.keys...); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNumericAccessors(t *testing.T) {
	p := Payload{"total": 12.5, "quantity": 3.0, "stringNumber": "7.25", "text": "abc"}

	if f, ok := p.Float("total"); !ok || f != 12.5 {
		t.Errorf("Float(total) = %v %v", f, ok)
	}
	if f, ok := p.Float("stringNumber"); !ok || f != 7.25 {
		t.Errorf("Float(stringNumber) = %v %v", f, ok)
	}
	if _, ok := p.Float("text"); ok {
		t.Error("Float(text) should not parse")
	}
	if n, ok := p.Int("quantity"); !ok || n != 3 {
		t.Errorf("Int(quantity) = %v %v", n, ok)
	}
	if _, ok := p.Int("missing"); ok {
		t.Error("Int(missing) should be absent")
	}
}

func TestStrings(t *testing.T) {
	tests := []struct {
		name string
		p    Payload
		keys []string
		want []string
	}{
		{
			name: "singleString",
			p:    Payload{"messageId": "m1"},
			keys: []string{"messageIds", "messageId"},
			want: []string{"m1"},
		},
		{
			name: "array",
			p:    Payload{"messageIds": []any{"m1", "m2"}},
			keys: []string{"messageIds", "messageId"},
			want: []string{"m1", "m2"},
		},
		{
			name: "arraySkipsNonStrings",
			p:    Payload{"messageIds": []any{"m1", 2.0, ""}},
			keys: []string{"messageIds"},
			want: []string{"m1"},
		},
		{
			name: "absent",
			p:    Payload{},
			keys: []string{"messageIds"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Strings(tt.keys...); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubAndHas(t *testing.T) {
	p := Payload{
		"order": map[string]any{"id": "o1"},
		"zero":  0.0,
	}

	sub, ok := p.Sub("item", "order")
	if !ok || sub.String("id") != "o1" {
		t.Errorf("Sub = %v %v", sub, ok)
	}
	if _, ok := p.Sub("missing"); ok {
		t.Error("Sub(missing) should be absent")
	}
	if !p.Has("zero") {
		t.Error("Has(zero) = false; explicit zero must count as present")
	}
	if p.Has("missing") {
		t.Error("Has(missing) = true")
	}
}
