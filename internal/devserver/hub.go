package devserver

import "sync"

// Hub holds every room that has been joined since the server started.
type Hub struct {
	mutex sync.RWMutex
	rooms map[string]*Room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

func (hub *Hub) getOrCreateRoom(id string) *Room {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[id]; exists {
		return room
	}
	room := newRoom(id)
	hub.rooms[id] = room
	go room.run()
	return room
}

// Close stops every room loop.
func (hub *Hub) Close() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for id, room := range hub.rooms {
		room.stop()
		delete(hub.rooms, id)
	}
}

// roomEvent is one entry in a room's queue: a registration change or a frame
// to fan out. A single queue keeps joins ordered against broadcasts.
type roomEvent struct {
	join   *Client
	leave  *Client
	frame  []byte
	except *Client
}

// Room fans frames out to the clients joined to its topic.
type Room struct {
	id       string
	clients  map[*Client]bool
	events   chan roomEvent
	done     chan struct{}
	stopOnce sync.Once
	mutex    sync.RWMutex

	// admission is held while a join reads history and registers, and while
	// a message is stored and published, so every message reaches a joiner
	// exactly one way: in the replay or as a broadcast.
	admission sync.Mutex
}

func newRoom(id string) *Room {
	return &Room{
		id:      id,
		clients: make(map[*Client]bool),
		events:  make(chan roomEvent, 256),
		done:    make(chan struct{}),
	}
}

func (room *Room) size() int {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	return len(room.clients)
}

func (room *Room) stop() {
	room.stopOnce.Do(func() { close(room.done) })
}

func (room *Room) join(client *Client) {
	room.enqueue(roomEvent{join: client})
}

func (room *Room) leave(client *Client) {
	room.enqueue(roomEvent{leave: client})
}

func (room *Room) publish(frame []byte, except *Client) {
	room.enqueue(roomEvent{frame: frame, except: except})
}

func (room *Room) enqueue(ev roomEvent) {
	select {
	case room.events <- ev:
	case <-room.done:
	}
}

func (room *Room) run() {
	for {
		select {
		case ev := <-room.events:
			room.mutex.Lock()
			switch {
			case ev.join != nil:
				room.clients[ev.join] = true
			case ev.leave != nil:
				delete(room.clients, ev.leave)
			default:
				room.fanOut(ev.frame, ev.except)
			}
			room.mutex.Unlock()
		case <-room.done:
			return
		}
	}
}

// fanOut runs with room.mutex held.
func (room *Room) fanOut(frame []byte, except *Client) {
	for client := range room.clients {
		if client == except {
			continue
		}
		// A client that cannot keep up is disconnected.
		if !client.enqueue(frame) {
			delete(room.clients, client)
			client.stop()
		}
	}
}
