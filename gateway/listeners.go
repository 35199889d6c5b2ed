package gateway

import (
	"github.com/sirupsen/logrus"
)

// dispatchListener updates session state for a dispatch. It reports handled=true when it
// already emitted its own event, so the dispatch is not forwarded verbatim.
type dispatchListener func(s *Shard, frame Frame) (handled bool, err error)

var dispatchListeners = map[string]dispatchListener{
	"READY":        readyListener,
	"RESUMED":      resumedListener,
	"GUILD_CREATE": guildCreateListener,
}

func readyListener(s *Shard, frame Frame) (bool, error) {
	var ready ReadyData
	if err := s.codec.Unmarshal(frame.Data, &ready); err != nil {
		return false, err
	}

	logrus.Infof("shard %d: received ready", s.ShardId)

	s.session.sessionId = ready.SessionId
	s.session.allGuildsLoaded = false
	s.session.unresolvedGuildIds = make(map[string]struct{}, len(ready.Guilds))
	for _, guild := range ready.Guilds {
		s.session.unresolvedGuildIds[guild.Id] = struct{}{}
	}

	s.setState(StateReady)
	s.emit(ReadyEvent{
		ShardId:   s.ShardId,
		SessionId: ready.SessionId,
		Guilds:    len(ready.Guilds),
		Data:      s.raw(frame.Data),
	})
	s.markReady()
	s.saveSessionAsync()

	// nothing to wait for
	if len(s.session.unresolvedGuildIds) == 0 {
		s.session.allGuildsLoaded = true
		s.emit(AllGuildsLoadedEvent{ShardId: s.ShardId})
	}

	return true, nil
}

func resumedListener(s *Shard, _ Frame) (bool, error) {
	logrus.Infof("shard %d: resumed", s.ShardId)

	s.setState(StateReady)
	s.emit(ResumedEvent{ShardId: s.ShardId})
	s.markReady()

	return true, nil
}

func guildCreateListener(s *Shard, frame Frame) (bool, error) {
	var guild guildIdentity
	if err := s.codec.Unmarshal(frame.Data, &guild); err != nil {
		return false, err
	}

	if _, unresolved := s.session.unresolvedGuildIds[guild.Id]; !unresolved {
		return false, nil
	}

	delete(s.session.unresolvedGuildIds, guild.Id)
	s.emit(GuildLoadedEvent{
		ShardId: s.ShardId,
		GuildId: guild.Id,
		Data:    s.raw(frame.Data),
	})

	if len(s.session.unresolvedGuildIds) == 0 && !s.session.allGuildsLoaded {
		s.session.allGuildsLoaded = true
		s.emit(AllGuildsLoadedEvent{ShardId: s.ShardId})
	}

	return true, nil
}
