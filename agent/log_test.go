package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/richinex/morph/llm"
	"github.com/richinex/morph/storage"
)

func TestLogEvictsOldest(t *testing.T) {
	ctx := context.Background()
	log := NewLog(3)

	for i := range 5 {
		require.NoError(t, log.Append(ctx, llm.UserMessage(fmt.Sprint(i))))
	}

	require.Equal(t, []llm.ChatMessage{
		llm.UserMessage("2"),
		llm.UserMessage("3"),
		llm.UserMessage("4"),
	}, log.Messages())
}

func TestLogDefaultCapacity(t *testing.T) {
	require.Equal(t, DefaultHistorySize, NewLog(0).Capacity())
}

func TestLogRoundTrip(t *testing.T) {
	ctx := context.Background()
	fileStore, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	sqliteStore, err := storage.NewSqliteInMemory()
	require.NoError(t, err)
	defer sqliteStore.Close()

	backends := map[string]storage.ConversationStorage{
		"memory": storage.NewInMemoryStorage(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}

	for name, store := range backends {
		t.Run(name, func(t *testing.T) {
			log := NewLog(10).WithStore(store, "root")
			for i := range 7 {
				msg := llm.UserMessage(fmt.Sprintf("u%d", i))
				if i%2 == 1 {
					msg = llm.AssistantMessage(fmt.Sprintf("a%d", i))
				}
				require.NoError(t, log.Append(ctx, msg))
			}

			reloaded := NewLog(10).WithStore(store, "root")
			require.NoError(t, reloaded.Load(ctx))
			require.Equal(t, log.Messages(), reloaded.Messages())
		})
	}
}

func TestLogLoadKeepsNewest(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemoryStorage()
	require.NoError(t, store.Save(ctx, "w1", []llm.ChatMessage{
		llm.UserMessage("old"),
		llm.UserMessage("mid"),
		llm.UserMessage("new"),
	}))

	log := NewLog(2).WithStore(store, "w1")
	require.NoError(t, log.Load(ctx))
	require.Equal(t, []llm.ChatMessage{llm.UserMessage("mid"), llm.UserMessage("new")}, log.Messages())
}

func TestLogClear(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemoryStorage()
	log := NewLog(5).WithStore(store, "w1")
	require.NoError(t, log.Append(ctx, llm.UserMessage("x")))

	require.NoError(t, log.Clear(ctx))
	require.Zero(t, log.Len())
	exists, err := store.Exists(ctx, "w1")
	require.NoError(t, err)
	require.False(t, exists)
}
