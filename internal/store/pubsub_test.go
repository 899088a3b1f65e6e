// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package store

import "testing"

func TestSubscribePublishUnsubscribe(t *testing.T) {
	p := NewPubSub()
	sub, count := p.Subscribe("sess1", "news")
	if count != 1 {
		t.Fatalf("got %d", count)
	}

	delivered := p.Publish("news", []byte("hello"))
	if delivered != 1 {
		t.Fatalf("got %d", delivered)
	}

	msg := <-sub.Ch
	if msg.Channel != "news" || string(msg.Payload) != "hello" {
		t.Fatalf("got %+v", msg)
	}

	remaining := p.Unsubscribe("sess1", "news")
	if remaining != 0 {
		t.Fatalf("got %d", remaining)
	}
	if p.Publish("news", []byte("x")) != 0 {
		t.Fatal("expected no subscribers left")
	}
}

func TestPublishNoSubscribersReturnsZero(t *testing.T) {
	p := NewPubSub()
	if n := p.Publish("ghost", []byte("x")); n != 0 {
		t.Fatalf("got %d", n)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	p := NewPubSub()
	p.Subscribe("sess1", "a")
	p.Subscribe("sess1", "b")
	p.UnsubscribeAll("sess1")
	if p.Publish("a", []byte("x")) != 0 || p.Publish("b", []byte("x")) != 0 {
		t.Fatal("expected all subscriptions removed")
	}
}

func TestSameSessionMultipleChannelsSharesEndpoint(t *testing.T) {
	p := NewPubSub()
	sub1, c1 := p.Subscribe("sess1", "a")
	sub2, c2 := p.Subscribe("sess1", "b")
	if c1 != 1 || c2 != 2 {
		t.Fatalf("got c1=%d c2=%d", c1, c2)
	}
	if sub1 != sub2 {
		t.Fatal("expected same delivery endpoint across channels for one session")
	}
}
