package kv

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	in := []string{"title=h2", "image = img@src", "price=.price span"}
	out, err := Parse(in, "=")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	expected := map[string]string{"title": "h2", "image": "img@src", "price": ".price span"}
	if !reflect.DeepEqual(out, expected) {
		t.Fatalf("unexpected parse result: %#v", out)
	}

	for _, bad := range [][]string{{"noseparator"}, {"=value"}} {
		if _, err := Parse(bad, "="); err == nil {
			t.Errorf("Parse(%q) should fail", bad)
		}
	}
}

func TestRange(t *testing.T) {
	lo, hi, err := Range("500-1500")
	if err != nil || lo != 500 || hi != 1500 {
		t.Fatalf("Range = %d, %d, %v", lo, hi, err)
	}
	for _, bad := range []string{"100", "a-b", "900-100", "-1-5"} {
		if _, _, err := Range(bad); err == nil {
			t.Errorf("Range(%q) should fail", bad)
		}
	}
}
