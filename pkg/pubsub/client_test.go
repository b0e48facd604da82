package pubsub

import (
	"testing"

	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "demo-codelab"}

	assert.Equal(t, "projects/demo-codelab/subscriptions/cart-aggregator", c.subscriptionResourceName("cart-aggregator"))
	assert.Equal(t, "projects/demo-codelab/topics/cart-item-writes", c.topicResourceName(" cart-item-writes "))
	assert.Equal(t, "projects/other/topics/t", c.topicResourceName("projects/other/topics/t"))
	assert.Equal(t, "", c.topicResourceName(""))

	var nilClient *Client
	assert.Equal(t, "", nilClient.subscriptionResourceName("x"))
	assert.Nil(t, nilClient.Publisher("x"))
	assert.Nil(t, nilClient.Subscription("x"))
}

func TestSubscriptionNamesSkipsEmpty(t *testing.T) {
	assert.Empty(t, subscriptionNames(config.PubSubConfig{TriggerTopic: "t"}))
	assert.Equal(t, []string{"cart-aggregator"}, subscriptionNames(config.PubSubConfig{TriggerSubscription: " cart-aggregator "}))
}
