package models

import (
	"errors"
	"fmt"
)

// Wire shapes for the Graph webhook payload and the subscriptions API.

type ChangeNotification struct {
	SubscriptionID                 string                 `json:"subscriptionId"`
	ClientState                    string                 `json:"clientState,omitempty"`
	ChangeType                     string                 `json:"changeType"`
	Resource                       string                 `json:"resource"`
	ResourceData                   map[string]interface{} `json:"resourceData,omitempty"`
	SubscriptionExpirationDateTime string                 `json:"subscriptionExpirationDateTime,omitempty"`
}

// ResourcePath finds the path to re-fetch the changed object: the resource
// field when present, otherwise the @odata.id or bare id from resourceData.
func (n *ChangeNotification) ResourcePath() (string, error) {
	if n.Resource != "" {
		return n.Resource, nil
	}
	if odataID, ok := n.ResourceData["@odata.id"].(string); ok && odataID != "" {
		return odataID, nil
	}
	if id, ok := n.ResourceData["id"].(string); ok && id != "" {
		return fmt.Sprintf("/messages/%s", id), nil
	}
	return "", errors.New("notification carries no resource path")
}

type NotificationBatch struct {
	ValidationTokens []string             `json:"validationTokens,omitempty"`
	Value            []ChangeNotification `json:"value"`
}

type Subscription struct {
	ID                 string `json:"id"`
	Resource           string `json:"resource"`
	ChangeType         string `json:"changeType"`
	NotificationURL    string `json:"notificationUrl"`
	ExpirationDateTime string `json:"expirationDateTime"`
	ClientState        string `json:"clientState,omitempty"`
	CreatorID          string `json:"creatorId,omitempty"`
}
