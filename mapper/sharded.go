package mapper

import (
	"sort"
	"sync"
)

type shard struct {
	lock   sync.Mutex
	mapper *Mapper
	// set once the shard left the map; holders must look it up again
	dropped bool
}

// Sharded holds one Mapper per Observation Domain so pipelines working on
// different domains do not contend. Work on a domain is serialized.
type Sharded struct {
	lock   *sync.Mutex
	shards map[uint32]*shard
}

func NewSharded() *Sharded {
	return &Sharded{
		lock:   &sync.Mutex{},
		shards: make(map[uint32]*shard),
	}
}

func (s *Sharded) shard(odid uint32) *shard {
	s.lock.Lock()
	defer s.lock.Unlock()
	sh, ok := s.shards[odid]
	if !ok {
		sh = &shard{mapper: New()}
		s.shards[odid] = sh
	}
	return sh
}

// Do runs fn with exclusive access to the Mapper of a domain. The shard of
// a domain left without state afterwards is dropped.
func (s *Sharded) Do(odid uint32, fn func(m *Mapper)) {
	for !s.do(odid, fn) {
	}
}

func (s *Sharded) do(odid uint32, fn func(m *Mapper)) bool {
	sh := s.shard(odid)
	sh.lock.Lock()
	defer sh.lock.Unlock()
	if sh.dropped {
		return false
	}
	fn(sh.mapper)
	if len(sh.mapper.domains) == 0 {
		s.lock.Lock()
		delete(s.shards, odid)
		sh.dropped = true
		s.lock.Unlock()
	}
	return true
}

// Len returns the number of domains with a shard.
func (s *Sharded) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.shards)
}

// GetODIDs lists the domains that hold canonical templates.
func (s *Sharded) GetODIDs() []uint32 {
	s.lock.Lock()
	shards := make(map[uint32]*shard, len(s.shards))
	for odid, sh := range s.shards {
		shards[odid] = sh
	}
	s.lock.Unlock()

	var odids []uint32
	for odid, sh := range shards {
		sh.lock.Lock()
		if len(sh.mapper.GetODIDs()) > 0 {
			odids = append(odids, odid)
		}
		sh.lock.Unlock()
	}
	sort.Slice(odids, func(i, j int) bool { return odids[i] < odids[j] })
	return odids
}
