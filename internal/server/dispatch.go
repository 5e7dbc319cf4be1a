package server

import (
	"log"
	"sort"
	"strings"

	"chatserver/internal/broadcast"
	"chatserver/internal/client"
	"chatserver/internal/protocol"
	"chatserver/internal/room"
	"chatserver/internal/validator"
)

// dispatch routes one parsed line. The returned error is non-nil only when
// writing to the issuing session fails, which tears the connection down.
func (s *Server) dispatch(sess *client.Session, in protocol.Inbound) error {
	switch in.Kind {
	case protocol.KindEmpty:
		return nil
	case protocol.KindCommand:
		// any command other than the leave pair cancels a pending
		// owner-leave confirmation; a stale warning must not force-leave
		if in.Verb != "LEAVE" && in.Verb != "FORCELEAVE" {
			sess.DisarmOwnerLeave()
		}
		return s.dispatchCommand(sess, in)
	case protocol.KindPrivate:
		sess.DisarmOwnerLeave()
		return s.handlePrivateMessage(sess, in)
	default:
		sess.DisarmOwnerLeave()
		return s.handleChatMessage(sess, in)
	}
}

func (s *Server) dispatchCommand(sess *client.Session, in protocol.Inbound) error {
	switch in.Verb {
	case "SETNAME":
		return s.handleSetName(sess, in.Args)
	case "CREATE":
		return s.handleCreate(sess, in.Args)
	case "JOIN":
		return s.handleJoin(sess, in.Args)
	case "LIST":
		return s.handleList(sess)
	case "USERS":
		return s.handleUsers(sess)
	case "GETPASSWORD":
		return s.handleGetPassword(sess)
	case "CHANGEPASSWORD":
		return s.handleChangePassword(sess, in.Args)
	case "KICK":
		return s.handleKick(sess, in.Args)
	case "BAN":
		return s.handleBan(sess, in.Args)
	case "TRANSFER":
		return s.handleTransfer(sess, in.Args)
	case "LEAVE":
		return s.handleLeave(sess)
	case "FORCELEAVE":
		return s.handleForceLeave(sess)
	default:
		return sess.Send(protocol.Errorf("Unknown command"))
	}
}

func (s *Server) handleSetName(sess *client.Session, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return sess.Send(protocol.Errorf("Name cannot be empty"))
	}
	if err := validator.ValidateUsername(name); err != nil {
		return sess.Send(protocol.Errorf("Invalid name"))
	}
	if !s.sessions.IsUsernameAvailable(name, sess.ID) {
		return sess.Send(protocol.NameTaken)
	}

	sess.SetUsername(name)
	log.Printf("[server] client %s set name: %s", sess.ID, name)
	return sess.Send(protocol.NameSet)
}

func (s *Server) handleCreate(sess *client.Session, args string) error {
	typeStr, rest, _ := strings.Cut(args, " ")
	isPrivate := typeStr == "PRIVATE"

	password := ""
	if isPrivate {
		password = strings.TrimSpace(rest)
		if password == "" {
			return sess.Send(protocol.Errorf("Private rooms require a password"))
		}
		if err := validator.ValidateRoomPassword(password); err != nil {
			return sess.Send(protocol.Errorf("Invalid password"))
		}
	}

	roomID, err := s.rooms.GenerateID(s.store.RoomExists)
	if err != nil {
		log.Printf("[server] allocate room ID: %v", err)
		return sess.Send(protocol.Errorf("Could not create room"))
	}

	// leaving the old room first mirrors JOIN
	if oldRoom := sess.RoomID(); oldRoom != "" {
		s.removeFromRoom(sess, oldRoom, true)
	}

	owner := sess.Username()
	rm := s.rooms.Create(roomID, isPrivate, owner, password)
	rm.AddMember(sess)
	sess.SetRoomID(roomID)
	sess.SetIsOwner(true)
	s.metrics.SetRoomOccupancy(roomID, 1)

	if err := s.store.CreateRoom(roomID, isPrivate, owner, password); err != nil {
		log.Printf("[server] persist room %s: %v", roomID, err)
	}

	log.Printf("[server] client %s (%s) created room %s", sess.ID, owner, roomID)
	return sess.Send(protocol.RoomCreated(roomID, isPrivate))
}

func (s *Server) handleJoin(sess *client.Session, args string) error {
	roomID, rest, _ := strings.Cut(args, " ")
	roomID = strings.TrimSpace(roomID)

	if roomID == "" {
		return sess.Send(protocol.Errorf("Room ID cannot be empty"))
	}
	if roomID == sess.RoomID() {
		return sess.Send(protocol.Errorf("You are already in this room"))
	}

	rm, ok := s.rooms.Get(roomID)
	if !ok {
		return sess.Send(protocol.RoomNotFound)
	}

	username := sess.Username()
	if rm.IsBanned(username) {
		return sess.Send(protocol.Errorf("You are banned from this room"))
	}
	if banned, err := s.store.IsBanned(roomID, username); err != nil {
		log.Printf("[server] ban lookup for %s in %s: %v", username, roomID, err)
	} else if banned {
		return sess.Send(protocol.Errorf("You are banned from this room"))
	}

	if rm.Private {
		password := strings.TrimSpace(rest)
		if password == "" {
			return sess.Send(protocol.PasswordRequired)
		}
		if password != rm.Password() {
			return sess.Send(protocol.WrongPassword)
		}
	}

	if oldRoom := sess.RoomID(); oldRoom != "" {
		s.removeFromRoom(sess, oldRoom, true)
	}

	// resolve again with the pending cleanup cancelled in the same step; the
	// sweeper may have destroyed the room while the checks ran
	rm, ok = s.rooms.Join(roomID)
	if !ok {
		return sess.Send(protocol.RoomNotFound)
	}

	// the replay runs under the room lock: no live line can reach the joiner
	// before ROOM_JOINED or inside the history framing
	if err := rm.Join(sess, func(ring []string) error {
		if err := sess.Send(protocol.RoomJoined(roomID)); err != nil {
			return err
		}
		return s.streamHistory(sess, roomID, ring)
	}); err != nil {
		return err
	}

	sess.SetRoomID(roomID)
	s.metrics.SetRoomOccupancy(roomID, int64(rm.MemberCount()))

	rm.Broadcast(protocol.SystemLine(username+" has joined the room"), sess.ID)
	log.Printf("[server] client %s (%s) joined room %s", sess.ID, username, roomID)
	return nil
}

// streamHistory writes the framed history replay. The store is the source;
// the in-memory ring is used only when the store has nothing. Empty history
// produces no framing at all.
func (s *Server) streamHistory(sess *client.Session, roomID string, ring []string) error {
	lines := ring
	if msgs, err := s.store.GetMessageHistory(roomID, s.rooms.HistoryLimit()); err != nil {
		log.Printf("[server] load history for room %s: %v", roomID, err)
	} else if len(msgs) > 0 {
		lines = make([]string, 0, len(msgs))
		for _, m := range msgs {
			lines = append(lines, strings.TrimSuffix(protocol.ChatLineAt(m.Timestamp, m.SenderUsername, m.Content), "\n"))
		}
	}
	if len(lines) == 0 {
		return nil
	}

	if err := sess.Send(protocol.MessageHistoryStart); err != nil {
		return err
	}
	for _, line := range lines {
		if err := sess.Send(line + "\n"); err != nil {
			return err
		}
	}
	return sess.Send(protocol.MessageHistoryEnd)
}

func (s *Server) handleList(sess *client.Session) error {
	rooms := s.rooms.All()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })

	entries := make([]string, 0, len(rooms))
	for _, rm := range rooms {
		entries = append(entries, protocol.RoomSummary(rm.ID, rm.MemberCount(), rm.Private))
	}
	return sess.Send(protocol.RoomsList(entries))
}

func (s *Server) handleUsers(sess *client.Session) error {
	rm, err := s.requireRoom(sess)
	if rm == nil {
		return err
	}

	var names []string
	for _, member := range rm.Members() {
		if name := member.Username(); name != "" {
			names = append(names, name)
		}
	}
	return sess.Send(protocol.UsersList(names))
}

func (s *Server) handleGetPassword(sess *client.Session) error {
	rm, err := s.requireRoom(sess)
	if rm == nil {
		return err
	}
	if !sess.IsOwner() {
		return sess.Send(protocol.Errorf("Only room owner can view password"))
	}
	if !rm.Private {
		return sess.Send(protocol.Errorf("This is a public room"))
	}
	return sess.Send(protocol.RoomPassword(rm.Password()))
}

func (s *Server) handleChangePassword(sess *client.Session, args string) error {
	newPassword := strings.TrimSpace(args)
	if newPassword == "" {
		return sess.Send(protocol.Errorf("Password cannot be empty"))
	}
	if err := validator.ValidateRoomPassword(newPassword); err != nil {
		return sess.Send(protocol.Errorf("Invalid password"))
	}

	rm, err := s.requireRoom(sess)
	if rm == nil {
		return err
	}
	if !sess.IsOwner() {
		return sess.Send(protocol.Errorf("Only room owner can change password"))
	}
	if !rm.Private {
		return sess.Send(protocol.Errorf("This is a public room"))
	}

	rm.SetPassword(newPassword)
	if err := s.store.UpdateRoomPassword(rm.ID, newPassword); err != nil {
		log.Printf("[server] persist password change for room %s: %v", rm.ID, err)
	}

	if err := sess.Send(protocol.PasswordChanged(newPassword)); err != nil {
		return err
	}
	rm.Broadcast(protocol.SystemLine("Room password has been changed by the owner"), sess.ID)
	return nil
}

func (s *Server) handleKick(sess *client.Session, args string) error {
	target := strings.TrimSpace(args)
	if target == "" {
		return sess.Send(protocol.Errorf("Please specify a username to kick"))
	}

	rm, err := s.requireRoom(sess)
	if rm == nil {
		return err
	}
	if !sess.IsOwner() {
		return sess.Send(protocol.Errorf("Only room owner can kick users"))
	}
	if target == sess.Username() {
		return sess.Send(protocol.Errorf("You cannot kick yourself"))
	}

	victim := rm.FindMemberByName(target)
	if victim == nil {
		return sess.Send(protocol.Errorf("User not found in this room"))
	}

	s.evict(rm, victim, "You have been kicked from the room by the owner",
		target+" has been kicked from the room")

	log.Printf("[server] %s kicked %s from room %s", sess.Username(), target, rm.ID)
	return nil
}

func (s *Server) handleBan(sess *client.Session, args string) error {
	target := strings.TrimSpace(args)
	if target == "" {
		return sess.Send(protocol.Errorf("Please specify a username to ban"))
	}

	rm, err := s.requireRoom(sess)
	if rm == nil {
		return err
	}
	if !sess.IsOwner() {
		return sess.Send(protocol.Errorf("Only room owner can ban users"))
	}
	if target == sess.Username() {
		return sess.Send(protocol.Errorf("You cannot ban yourself"))
	}

	rm.Ban(target)
	if err := s.store.AddBan(rm.ID, target); err != nil {
		log.Printf("[server] persist ban of %s in room %s: %v", target, rm.ID, err)
	}

	// a ban also evicts the target if they are present
	if victim := rm.FindMemberByName(target); victim != nil {
		s.evict(rm, victim, "You have been banned from the room by the owner",
			target+" has been banned from the room")
	}

	log.Printf("[server] %s banned %s from room %s", sess.Username(), target, rm.ID)
	return sess.Send(protocol.Successf("User %s has been banned", target))
}

func (s *Server) handleTransfer(sess *client.Session, args string) error {
	target := strings.TrimSpace(args)
	if target == "" {
		return sess.Send(protocol.Errorf("Please specify a username to transfer ownership"))
	}

	rm, err := s.requireRoom(sess)
	if rm == nil {
		return err
	}
	if !sess.IsOwner() {
		return sess.Send(protocol.Errorf("Only room owner can transfer ownership"))
	}
	if target == sess.Username() {
		return sess.Send(protocol.Errorf("You are already the owner"))
	}

	successor := rm.FindMemberByName(target)
	if successor == nil {
		return sess.Send(protocol.Errorf("User not found in this room"))
	}

	s.promote(rm, sess, successor)

	log.Printf("[server] ownership of room %s transferred from %s to %s", rm.ID, sess.Username(), target)
	return sess.Send(protocol.Successf("Ownership transferred to %s", target))
}

func (s *Server) handleLeave(sess *client.Session) error {
	roomID := sess.RoomID()
	if roomID == "" {
		return sess.Send(protocol.Errorf("You are not in a room"))
	}

	if sess.IsOwner() {
		if sess.OwnerLeaveArmed() {
			// second LEAVE while warned behaves like FORCELEAVE, for
			// clients that do not upgrade the verb themselves
			return s.handleForceLeave(sess)
		}
		sess.ArmOwnerLeave()
		return sess.Send(protocol.OwnerLeaveWarning)
	}

	s.removeFromRoom(sess, roomID, false)
	return sess.Send(protocol.LeftRoom)
}

func (s *Server) handleForceLeave(sess *client.Session) error {
	roomID := sess.RoomID()
	if roomID == "" {
		return sess.Send(protocol.Errorf("You are not in a room"))
	}
	if !sess.IsOwner() {
		return sess.Send(protocol.Errorf("This command is for room owners"))
	}

	s.removeFromRoom(sess, roomID, true)
	return sess.Send(protocol.LeftRoom)
}

func (s *Server) handlePrivateMessage(sess *client.Session, in protocol.Inbound) error {
	if in.Recipient == "" || in.Content == "" {
		return sess.Send(protocol.Errorf("Invalid private message format. Use: @username message"))
	}

	roomID := sess.RoomID()
	if roomID == "" {
		return sess.Send(protocol.Errorf("You must join a room first"))
	}
	if in.Recipient == sess.Username() {
		return sess.Send(protocol.Errorf("You cannot send a private message to yourself"))
	}

	s.pipeline.Enqueue(broadcast.Envelope{
		Sender:    sess,
		RoomID:    roomID,
		Content:   in.Content,
		Recipient: in.Recipient,
		Private:   true,
	})
	return nil
}

func (s *Server) handleChatMessage(sess *client.Session, in protocol.Inbound) error {
	roomID := sess.RoomID()
	if roomID == "" {
		return sess.Send(protocol.Errorf("You must join a room first"))
	}

	s.pipeline.Enqueue(broadcast.Envelope{
		Sender:  sess,
		RoomID:  roomID,
		Content: in.Content,
	})
	return nil
}

// requireRoom resolves the session's current room. A nil room means the
// precondition failed and the error (possibly nil) is the Send result.
func (s *Server) requireRoom(sess *client.Session) (*room.Room, error) {
	roomID := sess.RoomID()
	if roomID == "" {
		return nil, sess.Send(protocol.Errorf("You are not in a room"))
	}
	rm, ok := s.rooms.Get(roomID)
	if !ok {
		// room died under us; reset the session to the lobby
		sess.SetRoomID("")
		return nil, sess.Send(protocol.Errorf("You are not in a room"))
	}
	return rm, nil
}

// evict removes a member on KICK or BAN: personal notice, keyword line,
// room-wide announcement, then removal.
func (s *Server) evict(rm *room.Room, victim *client.Session, personalNotice, roomNotice string) {
	if err := victim.Send(protocol.SystemLine(personalNotice)); err == nil {
		if err := victim.Send(protocol.KickedFromRoom); err != nil {
			s.metrics.BroadcastError()
		}
	} else {
		s.metrics.BroadcastError()
	}

	rm.BroadcastToAll(protocol.SystemLine(roomNotice))
	rm.RemoveMember(victim.ID)
	victim.SetRoomID("")
	s.metrics.SetRoomOccupancy(rm.ID, int64(rm.MemberCount()))

	if rm.MemberCount() == 0 {
		s.rooms.ScheduleCleanup(rm.ID)
	}
}

// promote hands ownership of rm from the current owner to successor.
func (s *Server) promote(rm *room.Room, owner, successor *client.Session) {
	name := successor.Username()
	rm.SetOwner(name)
	if owner != nil {
		owner.SetIsOwner(false)
		owner.DisarmOwnerLeave()
	}
	successor.SetIsOwner(true)

	if err := s.store.UpdateRoomOwner(rm.ID, name); err != nil {
		log.Printf("[server] persist owner change for room %s: %v", rm.ID, err)
	}

	rm.BroadcastToAll(protocol.SystemLine("Room ownership transferred to " + name))
	if err := successor.Send(protocol.OwnershipReceived); err != nil {
		s.metrics.BroadcastError()
	}
}

// removeFromRoom takes a session out of a room with the full leave protocol:
// owner handoff when promoteOwner is set, leave notice, removal, occupancy
// update, and deferred cleanup when the room empties.
func (s *Server) removeFromRoom(sess *client.Session, roomID string, promoteOwner bool) {
	rm, ok := s.rooms.Get(roomID)
	if !ok {
		sess.SetRoomID("")
		return
	}

	username := sess.Username()

	if promoteOwner && sess.IsOwner() && rm.MemberCount() > 1 {
		if successor := rm.LongestMember(sess.ID); successor != nil {
			s.promote(rm, sess, successor)
		}
	}

	rm.Broadcast(protocol.SystemLine(username+" has left the room"), sess.ID)
	rm.RemoveMember(sess.ID)
	sess.SetRoomID("")
	s.metrics.SetRoomOccupancy(roomID, int64(rm.MemberCount()))

	if rm.MemberCount() == 0 {
		s.rooms.ScheduleCleanup(roomID)
	}
}
