/*
DESCRIPTION
  youtube.go implements the Service interface on top of the YouTube Live
  Streaming API: liveBroadcast and liveStream resource creation, binding,
  status reads and lifecycle transitions.

AUTHORS
  Danyela June Brown

LICENSE
  Copyright (C) 2025 Danyela June Brown

  This file is part of stagecast. Stagecast is free software: you can
  redistribute it and/or modify it under the terms of the GNU
  General Public License as published by the Free Software
  Foundation, either version 3 of the License, or (at your option)
  any later version.

  Stagecast is distributed in the hope that it will be useful,
  but WITHOUT ANY WARRANTY; without even the implied warranty of
  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
  GNU General Public License for more details.

  You should have received a copy of the GNU General Public License
  in gpl.txt. If not, see <http://www.gnu.org/licenses/>.
*/

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/youtube/v3"
)

// Stream ingestion parameters. The platform rejects video arriving without
// an accompanying audio track, but that is the transcoder's problem, not
// ours; see the relay's worker arguments.
const (
	ingestionType = "rtmp"
	frameRate     = "30fps"
)

// YouTubeService implements Service using the YouTube Live Streaming API.
// The zero value is not usable; construct with NewYouTubeService.
type YouTubeService struct {
	log func(string, ...interface{})
	svc func(ctx context.Context) (*youtube.Service, error)
}

// NewYouTubeService returns a YouTubeService that logs through log.
// The API service handle is constructed lazily per call so that an expired
// token is refreshed rather than cached forever.
func NewYouTubeService(log func(string, ...interface{})) *YouTubeService {
	return &YouTubeService{log: log, svc: getService}
}

// CreateBroadcast creates a liveBroadcast and a liveStream, binds them, and
// returns their IDs and the RTMP egress target (ingestion address with the
// stream name appended). Any failure along the way fails the whole call;
// no attempt is made to reuse or repair a partially created pair.
func (s *YouTubeService) CreateBroadcast(ctx context.Context, d Details) (IDs, string, error) {
	svc, err := s.svc(ctx)
	if err != nil {
		return IDs{}, "", fmt.Errorf("could not get youtube service: %w", err)
	}

	bID, err := s.insertBroadcast(svc, d)
	if err != nil {
		return IDs{}, "", fmt.Errorf("could not insert broadcast: %w", err)
	}

	sID, egress, err := s.insertStream(svc, d)
	if err != nil {
		return IDs{BID: bID}, "", fmt.Errorf("could not insert stream: %w", err)
	}

	err = s.bindBroadcast(svc, bID, sID)
	if err != nil {
		return IDs{BID: bID, SID: sID}, "", fmt.Errorf("could not bind broadcast: %w", err)
	}

	return IDs{BID: bID, SID: sID}, egress, nil
}

// BroadcastStatus gets the lifecycle status of the broadcast with the given ID.
func (s *YouTubeService) BroadcastStatus(ctx context.Context, bID string) (string, error) {
	svc, err := s.svc(ctx)
	if err != nil {
		return "", fmt.Errorf("could not get youtube service: %w", err)
	}
	resp, err := youtube.NewLiveBroadcastsService(svc).List([]string{"status"}).Id(bID).Do()
	if err != nil {
		return "", fmt.Errorf("could not list broadcasts: %w", err)
	}
	if len(resp.Items) == 0 {
		return "", ErrNoBroadcastItems
	}
	return resp.Items[0].Status.LifeCycleStatus, nil
}

// StreamStatus gets the ingest status of the stream with the given ID.
func (s *YouTubeService) StreamStatus(ctx context.Context, sID string) (string, error) {
	svc, err := s.svc(ctx)
	if err != nil {
		return "", fmt.Errorf("could not get youtube service: %w", err)
	}
	resp, err := youtube.NewLiveStreamsService(svc).List([]string{"status"}).Id(sID).Do()
	if err != nil {
		return "", fmt.Errorf("could not list streams: %w", err)
	}
	if len(resp.Items) == 0 {
		return "", ErrNoStreamItems
	}
	return resp.Items[0].Status.StreamStatus, nil
}

// TransitionBroadcast requests the given lifecycle status for the broadcast
// with the given ID.
func (s *YouTubeService) TransitionBroadcast(ctx context.Context, bID, status string) error {
	svc, err := s.svc(ctx)
	if err != nil {
		return fmt.Errorf("could not get youtube service: %w", err)
	}
	s.log("ID: %s, requesting transition to %s status...", bID, status)
	_, err = youtube.NewLiveBroadcastsService(svc).Transition(status, bID, []string{"status"}).Do()
	return err
}

// CompleteBroadcast transitions the broadcast with the given ID to complete
// status. Completing an already complete broadcast is a no-op rather than
// an error; the platform reports this as a redundant transition.
func (s *YouTubeService) CompleteBroadcast(ctx context.Context, bID string) error {
	err := s.TransitionBroadcast(ctx, bID, StatusComplete)
	if err != nil {
		if IsRedundantTransition(err) {
			s.log("ID: %s, already complete", bID)
			return nil
		}
		return fmt.Errorf("could not transition to complete: %w", err)
	}
	return nil
}

// IsRedundantTransition reports whether err is the platform's rejection of
// a transition to a status the broadcast already has.
func IsRedundantTransition(err error) bool {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return false
	}
	for _, item := range gErr.Errors {
		if item.Reason == "redundantTransition" {
			return true
		}
	}
	return strings.Contains(gErr.Message, "redundant")
}

// broadcastSnippet builds the snippet for a liveBroadcast. A zero End means
// an open-ended broadcast; the scheduled end is omitted rather than
// formatted as the zero time, which the platform rejects for ending before
// the start.
func broadcastSnippet(d Details) *youtube.LiveBroadcastSnippet {
	snippet := &youtube.LiveBroadcastSnippet{
		Title:              d.Title,
		Description:        d.Description,
		ScheduledStartTime: d.Start.Format(time.RFC3339),
	}
	if !d.End.IsZero() {
		snippet.ScheduledEndTime = d.End.Format(time.RFC3339)
	}
	return snippet
}

// insertBroadcast creates the liveBroadcast resource. The monitor stream is
// disabled so the broadcast can be transitioned straight to live without a
// manual testing phase.
func (s *YouTubeService) insertBroadcast(svc *youtube.Service, d Details) (string, error) {
	s.log("inserting broadcast, title: %s, privacy: %s, start: %v, end: %v", d.Title, d.Privacy, d.Start, d.End)
	resp, err := youtube.NewLiveBroadcastsService(svc).Insert([]string{"snippet", "status", "contentDetails"}, &youtube.LiveBroadcast{
		Snippet: broadcastSnippet(d),
		Status: &youtube.LiveBroadcastStatus{
			PrivacyStatus:           d.Privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
		ContentDetails: &youtube.LiveBroadcastContentDetails{
			EnableAutoStart: false,
			EnableAutoStop:  false,
			MonitorStream: &youtube.MonitorStreamInfo{
				EnableMonitorStream: googleapi.Bool(false),
				ForceSendFields:     []string{"EnableMonitorStream"},
			},
		},
	}).Do()
	if err != nil {
		return "", err
	}
	s.log("broadcast %q with title %q was created", resp.Id, resp.Snippet.Title)
	return resp.Id, nil
}

// insertStream creates the liveStream resource and returns its ID and the
// full RTMP egress target.
func (s *YouTubeService) insertStream(svc *youtube.Service, d Details) (string, string, error) {
	s.log("inserting stream, name: %s, res: %s", d.StreamName, d.Resolution)
	resp, err := youtube.NewLiveStreamsService(svc).Insert([]string{"snippet", "cdn"}, &youtube.LiveStream{
		Snippet: &youtube.LiveStreamSnippet{
			Title: d.StreamName,
		},
		Cdn: &youtube.CdnSettings{
			Resolution:    d.Resolution,
			IngestionType: ingestionType,
			FrameRate:     frameRate,
		},
	}).Do()
	if err != nil {
		return "", "", err
	}
	info := resp.Cdn.IngestionInfo
	if info == nil || info.IngestionAddress == "" || info.StreamName == "" {
		return "", "", errors.New("stream created without ingestion info")
	}
	egress := strings.TrimRight(info.IngestionAddress, "/") + "/" + info.StreamName
	s.log("stream %q with title %q was inserted", resp.Id, resp.Snippet.Title)
	return resp.Id, egress, nil
}

// bindBroadcast binds the broadcast to the stream for the lifetime of both.
func (s *YouTubeService) bindBroadcast(svc *youtube.Service, bID, sID string) error {
	resp, err := svc.LiveBroadcasts.Bind(bID, []string{"id", "contentDetails"}).StreamId(sID).Do()
	if err != nil {
		return err
	}
	s.log("broadcast %q was bound to stream %q", resp.Id, resp.ContentDetails.BoundStreamId)
	return nil
}
