package backend

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionHub_PublishReachesOnlyTheFlow(t *testing.T) {
	hub := NewSessionHub()

	var got []string
	hub.Subscribe("flow-a", func(s Session) { got = append(got, "a:"+s.Email) })
	hub.Subscribe("flow-b", func(s Session) { got = append(got, "b:"+s.Email) })

	delivered := hub.Publish("flow-a", Session{Email: "ada@gmail.com"})

	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"a:ada@gmail.com"}, got)
}

func TestSessionHub_ReleasedCallbackNeverCalled(t *testing.T) {
	hub := NewSessionHub()

	calls := 0
	sub := hub.Subscribe("flow", func(Session) { calls++ })
	sub.Unsubscribe()
	sub.Unsubscribe()

	assert.Equal(t, 0, hub.Publish("flow", Session{}))
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, hub.Subscribers("flow"))
}

func TestSessionHub_CallbackMayUnsubscribeItself(t *testing.T) {
	hub := NewSessionHub()

	var sub Subscription
	calls := 0
	sub = hub.Subscribe("flow", func(Session) {
		calls++
		sub.Unsubscribe()
	})

	hub.Publish("flow", Session{})
	hub.Publish("flow", Session{})

	assert.Equal(t, 1, calls)
}

func TestSessionHub_ConcurrentSubscribeAndPublish(t *testing.T) {
	hub := NewSessionHub()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Subscribe("flow", func(Session) {}).Unsubscribe()
		}()
		go func() {
			defer wg.Done()
			hub.Publish("flow", Session{})
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.Subscribers("flow"))
}
