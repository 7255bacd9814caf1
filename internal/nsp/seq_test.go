// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import "testing"

func TestSeqNext(t *testing.T) {
	cases := []struct {
		cur, got uint16
		want     bool
	}{
		{5, 6, true},
		{5, 7, false},
		{5, 5, false},
		{0x0FFF, 0x000, true}, // wrap boundary
		{0x0FFE, 0x0FFF, true},
	}
	for _, c := range cases {
		if got := seqNext(c.cur, c.got); got != c.want {
			t.Errorf("seqNext(%#x, %#x) = %v, want %v", c.cur, c.got, got, c.want)
		}
	}
}

func TestSeqAfter(t *testing.T) {
	cases := []struct {
		a, b uint16
		want bool
	}{
		{6, 5, true},
		{5, 6, false},
		{5, 5, true}, // equal counts as "at or after" in this half-window definition
		{0x000, 0x0FFF, true},
		{0x0FFF, 0x000, false},
	}
	for _, c := range cases {
		if got := seqAfter(c.a, c.b); got != c.want {
			t.Errorf("seqAfter(%#x, %#x) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestSeqLeq(t *testing.T) {
	if !seqLeq(5, 5) {
		t.Error("seqLeq(5,5) should be true")
	}
	if !seqLeq(5, 6) {
		t.Error("seqLeq(5,6) should be true")
	}
	if seqLeq(6, 5) {
		t.Error("seqLeq(6,5) should be false")
	}
}
