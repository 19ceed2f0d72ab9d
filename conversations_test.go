package tenalychat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationStoreLoad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, []Contact{
			{ConversationID: "conv-1", UserID: "seller-1", LastMessageAt: timelineBase},
			{ConversationID: "conv-2", UserID: "seller-2", AdContext: &AdContext{AdID: "ad-7"}, LastMessageAt: timelineBase.Add(time.Hour)},
		})
	}))
	defer srv.Close()

	client := NewClient("test-token", WithBaseURL(srv.URL))
	cs := NewConversationStore(client.Contacts, "buyer-1")
	require.NoError(t, cs.Load(context.Background()))

	conv, ok := cs.Get("conv-2")
	require.True(t, ok)
	assert.Equal(t, "seller-2", conv.Counterpart("buyer-1"))
	assert.Equal(t, "ad-7", conv.AdContext.AdID)

	// Most recent activity first.
	list := cs.List()
	require.Len(t, list, 2)
	assert.Equal(t, "conv-2", list[0].ID)
	assert.Equal(t, "conv-1", list[1].ID)
}

func TestConversationStoreTouchReorders(t *testing.T) {
	cs := NewConversationStore(nil, "buyer-1")
	cs.Upsert(Conversation{ID: "conv-1", LastActivity: timelineBase})
	cs.Upsert(Conversation{ID: "conv-2", LastActivity: timelineBase.Add(time.Minute)})

	cs.Touch("conv-1", timelineBase.Add(time.Hour))

	list := cs.List()
	assert.Equal(t, "conv-1", list[0].ID)
}

func TestConversationStoreTouchNeverRewinds(t *testing.T) {
	cs := NewConversationStore(nil, "buyer-1")
	cs.Upsert(Conversation{ID: "conv-1", LastActivity: timelineBase.Add(time.Hour)})

	cs.Touch("conv-1", timelineBase)

	conv, _ := cs.Get("conv-1")
	assert.Equal(t, timelineBase.Add(time.Hour), conv.LastActivity)
}

func TestConversationStoreTouchUnknownIsNoop(t *testing.T) {
	cs := NewConversationStore(nil, "buyer-1")
	cs.Touch("conv-ghost", timelineBase)
	assert.Empty(t, cs.List())
}

func TestConversationStoreUpsertOverwrites(t *testing.T) {
	cs := NewConversationStore(nil, "buyer-1")
	cs.Upsert(Conversation{ID: "conv-1", Participants: [2]string{"buyer-1", "seller-1"}})
	cs.Upsert(Conversation{ID: "conv-1", Participants: [2]string{"buyer-1", "seller-1"}, AdContext: &AdContext{AdID: "ad-1"}})

	conv, ok := cs.Get("conv-1")
	require.True(t, ok)
	require.NotNil(t, conv.AdContext)
	assert.Len(t, cs.List(), 1)
}
