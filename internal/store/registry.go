package store

// index is the in-memory bidirectional subscription registry. It is
// rebuilt from the snapshot at load time and mutated only inside the
// store's apply path, so it never drifts from the durable state.
type index struct {
	chatsByFeed map[string]map[int64]struct{}
	feedsByChat map[int64]map[string]struct{}
}

func newIndex() *index {
	return &index{
		chatsByFeed: make(map[string]map[int64]struct{}),
		feedsByChat: make(map[int64]map[string]struct{}),
	}
}

func (ix *index) add(feedURL string, chatID int64) bool {
	chats, ok := ix.chatsByFeed[feedURL]
	if !ok {
		chats = make(map[int64]struct{})
		ix.chatsByFeed[feedURL] = chats
	}
	if _, dup := chats[chatID]; dup {
		return false
	}
	chats[chatID] = struct{}{}

	feeds, ok := ix.feedsByChat[chatID]
	if !ok {
		feeds = make(map[string]struct{})
		ix.feedsByChat[chatID] = feeds
	}
	feeds[feedURL] = struct{}{}
	return true
}

func (ix *index) remove(feedURL string, chatID int64) bool {
	chats, ok := ix.chatsByFeed[feedURL]
	if !ok {
		return false
	}
	if _, subscribed := chats[chatID]; !subscribed {
		return false
	}
	delete(chats, chatID)
	if len(chats) == 0 {
		delete(ix.chatsByFeed, feedURL)
	}

	feeds := ix.feedsByChat[chatID]
	delete(feeds, feedURL)
	if len(feeds) == 0 {
		delete(ix.feedsByChat, chatID)
	}
	return true
}

// removeFeed drops every subscription of the feed and returns the chats
// that were subscribed.
func (ix *index) removeFeed(feedURL string) []int64 {
	chats := make([]int64, 0, len(ix.chatsByFeed[feedURL]))
	for chatID := range ix.chatsByFeed[feedURL] {
		chats = append(chats, chatID)
		feeds := ix.feedsByChat[chatID]
		delete(feeds, feedURL)
		if len(feeds) == 0 {
			delete(ix.feedsByChat, chatID)
		}
	}
	delete(ix.chatsByFeed, feedURL)
	return chats
}

func (ix *index) chats(feedURL string) []int64 {
	chats := make([]int64, 0, len(ix.chatsByFeed[feedURL]))
	for chatID := range ix.chatsByFeed[feedURL] {
		chats = append(chats, chatID)
	}
	return chats
}

func (ix *index) feeds(chatID int64) []string {
	urls := make([]string, 0, len(ix.feedsByChat[chatID]))
	for url := range ix.feedsByChat[chatID] {
		urls = append(urls, url)
	}
	return urls
}

func (ix *index) subscriberCount(feedURL string) int {
	return len(ix.chatsByFeed[feedURL])
}
