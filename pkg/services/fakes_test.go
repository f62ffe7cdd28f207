package services

import (
	"context"
	"maps"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/resources"
)

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*models.Device
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: map[string]*models.Device{}}
}

func cloneDevice(d *models.Device) *models.Device {
	c := *d
	if d.Events != nil {
		c.Events = maps.Clone(d.Events)
	}
	if d.PairingCode != nil {
		pc := *d.PairingCode
		c.PairingCode = &pc
	}
	if d.Credentials != nil {
		cb := *d.Credentials
		c.Credentials = &cb
	}
	if d.OwnerAccountID != nil {
		owner := *d.OwnerAccountID
		c.OwnerAccountID = &owner
	}
	return &c
}

func (r *fakeDeviceRepo) SelectExists(_ context.Context, key string) (bool, *models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[key]
	if !ok {
		return false, nil, nil
	}
	return true, cloneDevice(device), nil
}

func (r *fakeDeviceRepo) SelectByPairingCode(_ context.Context, code string) (bool, *models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, device := range r.devices {
		if device.PairingCode != nil && device.PairingCode.Code == code {
			return true, cloneDevice(device), nil
		}
	}
	return false, nil, nil
}

func (r *fakeDeviceRepo) Insert(_ context.Context, device *models.Device) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[device.Key] = cloneDevice(device)
	return cloneDevice(device), nil
}

func (r *fakeDeviceRepo) Update(_ context.Context, device *models.Device) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[device.Key] = cloneDevice(device)
	return cloneDevice(device), nil
}

func (r *fakeDeviceRepo) UpdateLastSeen(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if device, ok := r.devices[key]; ok {
		now := device.CreationTimestamp
		device.LastSeen = &now
	}
	return nil
}

type fakeAccountReader struct {
	accounts map[string]*models.Account
}

func (r *fakeAccountReader) SelectExists(_ context.Context, id string) (bool, *models.Account, error) {
	account, ok := r.accounts[id]
	if !ok {
		return false, nil, nil
	}
	copied := *account
	return true, &copied, nil
}

type fakePostReader struct {
	posts map[string]*models.Post

	// page/pageBookmark are returned verbatim from SelectPage; cursor
	// behavior itself is the postgres store's concern.
	page         []models.Post
	pageBookmark string
	lastQuery    resources.PostQuery
}

func (r *fakePostReader) SelectExists(_ context.Context, id string) (bool, *models.Post, error) {
	post, ok := r.posts[id]
	if !ok {
		return false, nil, nil
	}
	copied := *post
	return true, &copied, nil
}

func (r *fakePostReader) SelectPage(_ context.Context, query resources.PostQuery) ([]models.Post, string, error) {
	r.lastQuery = query
	return r.page, r.pageBookmark, nil
}

type fakeCommentReader struct {
	page         []models.Comment
	pageBookmark string
	lastQuery    resources.CommentQuery
}

func (r *fakeCommentReader) SelectPage(_ context.Context, query resources.CommentQuery) ([]models.Comment, string, error) {
	r.lastQuery = query
	return r.page, r.pageBookmark, nil
}

type fakeReactionRepo struct {
	mu        sync.Mutex
	reactions []models.Reaction
}

func (r *fakeReactionRepo) SelectByAccountAndPost(_ context.Context, accountID, postID string) ([]models.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Reaction
	for _, reaction := range r.reactions {
		if reaction.AccountID == accountID && reaction.PostID == postID {
			out = append(out, reaction)
		}
	}
	return out, nil
}

func (r *fakeReactionRepo) Insert(_ context.Context, reaction *models.Reaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.reactions {
		if existing.PostID == reaction.PostID && existing.AccountID == reaction.AccountID && existing.Emoji == reaction.Emoji {
			return nil
		}
	}
	r.reactions = append(r.reactions, *reaction)
	return nil
}

func (r *fakeReactionRepo) Delete(_ context.Context, postID, accountID, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.reactions[:0]
	for _, reaction := range r.reactions {
		if reaction.PostID == postID && reaction.AccountID == accountID && reaction.Emoji == emoji {
			continue
		}
		kept = append(kept, reaction)
	}
	r.reactions = kept
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages map[string][]*message.Message
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{messages: map[string][]*message.Message{}}
}

func (p *fakePublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[topic] = append(p.messages[topic], messages...)
	return nil
}

func (p *fakePublisher) Close() error {
	return nil
}

func (p *fakePublisher) published(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages[topic]...)
}
