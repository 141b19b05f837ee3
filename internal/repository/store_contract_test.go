package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

// runStoreContract exercises the behaviour every domain.MessageStore must share.
// User ids are random so the suite can run against a shared database.
func runStoreContract(t *testing.T, store domain.MessageStore) {
	ctx := context.Background()

	send := func(t *testing.T, from, to, content string) *domain.Message {
		t.Helper()
		m, err := store.Create(ctx, domain.NewMessage{SenderID: from, ReceiverID: to, Content: content})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		return m
	}

	t.Run("list messages returns a newest window in chronological order", func(t *testing.T) {
		req := require.New(t)
		a, b := uuid.NewString(), uuid.NewString()
		var ids []string
		for i := 0; i < 5; i++ {
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			ids = append(ids, send(t, from, to, "hello").ID)
		}

		first, err := store.ListMessages(ctx, domain.MessageQuery{UserID: a, CounterpartID: b, Page: domain.Page{Number: 1, Limit: 2}})
		req.NoError(err)
		req.Equal([]string{ids[3], ids[4]}, messageIDs(first))

		second, err := store.ListMessages(ctx, domain.MessageQuery{UserID: b, CounterpartID: a, Page: domain.Page{Number: 2, Limit: 2}})
		req.NoError(err)
		req.Equal([]string{ids[1], ids[2]}, messageIDs(second))

		all, err := store.ListMessages(ctx, domain.MessageQuery{UserID: a, CounterpartID: b})
		req.NoError(err)
		req.Equal(ids, messageIDs(all))
	})

	t.Run("list messages filters by property", func(t *testing.T) {
		req := require.New(t)
		a, b := uuid.NewString(), uuid.NewString()
		prop := uuid.NewString()
		send(t, a, b, "general")
		tagged, err := store.Create(ctx, domain.NewMessage{SenderID: b, ReceiverID: a, Content: "about the flat", PropertyID: &prop})
		req.NoError(err)

		got, err := store.ListMessages(ctx, domain.MessageQuery{UserID: a, CounterpartID: b, PropertyID: &prop})
		req.NoError(err)
		req.Equal([]string{tagged.ID}, messageIDs(got))
		req.NotNil(got[0].PropertyID)
		req.Equal(prop, *got[0].PropertyID)
	})

	t.Run("conversation partners keep only the latest message per counterpart", func(t *testing.T) {
		req := require.New(t)
		a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()
		send(t, a, b, "1")
		send(t, c, a, "2")
		latestB := send(t, b, a, "3")
		send(t, b, c, "not for a")

		convs, err := store.ListConversationPartners(ctx, a, 0)
		req.NoError(err)
		req.Len(convs, 2)
		req.Equal(b, convs[0].CounterpartID)
		req.Equal(latestB.ID, convs[0].LastMessage.ID)
		req.EqualValues(1, convs[0].UnreadCount)
		req.Equal(c, convs[1].CounterpartID)
		req.EqualValues(1, convs[1].UnreadCount)

		capped, err := store.ListConversationPartners(ctx, a, 1)
		req.NoError(err)
		req.Len(capped, 1)
	})

	t.Run("conversation preview is the newest message of the thread", func(t *testing.T) {
		req := require.New(t)
		a, b := uuid.NewString(), uuid.NewString()
		// back to back so timestamps may collide at the store's resolution
		for i := 0; i < 5; i++ {
			_, err := store.Create(ctx, domain.NewMessage{SenderID: a, ReceiverID: b, Content: "burst"})
			req.NoError(err)
		}

		convs, err := store.ListConversationPartners(ctx, b, 0)
		req.NoError(err)
		req.Len(convs, 1)
		page, err := store.ListMessages(ctx, domain.MessageQuery{UserID: b, CounterpartID: a})
		req.NoError(err)
		req.Len(page, 5)
		req.Equal(page[len(page)-1].ID, convs[0].LastMessage.ID)
	})

	t.Run("mark read is scoped to the receiver", func(t *testing.T) {
		req := require.New(t)
		a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()
		m := send(t, a, b, "read me")

		req.NoError(store.MarkRead(ctx, m.ID, c))
		req.NoError(store.MarkRead(ctx, m.ID, a))
		n, err := store.UnreadCount(ctx, b)
		req.NoError(err)
		req.EqualValues(1, n)

		req.NoError(store.MarkRead(ctx, m.ID, b))
		n, err = store.UnreadCount(ctx, b)
		req.NoError(err)
		req.Zero(n)

		req.NoError(store.MarkRead(ctx, uuid.NewString(), b))
	})

	t.Run("mark conversation read only touches incoming messages", func(t *testing.T) {
		req := require.New(t)
		a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()
		send(t, b, a, "1")
		send(t, b, a, "2")
		send(t, a, b, "3")
		send(t, c, a, "4")

		n, err := store.MarkConversationRead(ctx, a, b)
		req.NoError(err)
		req.EqualValues(2, n)

		unread, err := store.UnreadCount(ctx, a)
		req.NoError(err)
		req.EqualValues(1, unread)
		unread, err = store.UnreadCount(ctx, b)
		req.NoError(err)
		req.EqualValues(1, unread)
	})

	t.Run("delete is scoped to the sender", func(t *testing.T) {
		req := require.New(t)
		a, b := uuid.NewString(), uuid.NewString()
		m := send(t, a, b, "oops")

		req.ErrorIs(store.Delete(ctx, m.ID, b), domain.ErrNotFound)
		got, err := store.ListMessages(ctx, domain.MessageQuery{UserID: a, CounterpartID: b})
		req.NoError(err)
		req.Len(got, 1)

		req.NoError(store.Delete(ctx, m.ID, a))
		got, err = store.ListMessages(ctx, domain.MessageQuery{UserID: a, CounterpartID: b})
		req.NoError(err)
		req.Empty(got)

		req.ErrorIs(store.Delete(ctx, m.ID, a), domain.ErrNotFound)
	})

	t.Run("concurrent sends to one receiver are all persisted", func(t *testing.T) {
		req := require.New(t)
		receiver := uuid.NewString()
		senders := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}

		var wg sync.WaitGroup
		errs := make(chan error, len(senders))
		for _, s := range senders {
			wg.Add(1)
			go func(from string) {
				defer wg.Done()
				_, err := store.Create(ctx, domain.NewMessage{SenderID: from, ReceiverID: receiver, Content: "hi"})
				errs <- err
			}(s)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			req.NoError(err)
		}

		convs, err := store.ListConversationPartners(ctx, receiver, 0)
		req.NoError(err)
		req.Len(convs, 3)
		req.ElementsMatch(senders, []string{convs[0].CounterpartID, convs[1].CounterpartID, convs[2].CounterpartID})
	})
}

func messageIDs(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
