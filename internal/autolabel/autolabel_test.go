package autolabel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(true)

	tests := []struct {
		name    string
		subject string
		body    string
		sender  string
		want    []string
	}{
		{name: "social by domain", subject: "Hi", sender: "notify@facebookmail.com", want: []string{"social"}},
		{name: "subdomain match", subject: "Hi", sender: "noreply@mail.linkedin.com", want: []string{"social"}},
		{name: "promotions by keyword", subject: "Big SALE today", sender: "shop@store.test", want: []string{"promotions"}},
		{name: "word boundary", subject: "Wholesale pricing", sender: "a@b.test", want: nil},
		{name: "percent phrase", body: "Get 20% off everything", sender: "a@b.test", want: []string{"promotions"}},
		{name: "multiple categories", subject: "Your order has shipped", body: "tracking number 123", sender: "a@b.test", want: []string{"updates", "shopping"}},
		{name: "forums digest", subject: "Weekly digest", sender: "list@googlegroups.com", want: []string{"forums"}},
		{name: "nothing matches", subject: "Lunch?", body: "see you at noon", sender: "bob@gmail.test", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.subject, tt.body, tt.sender))
		})
	}
}

func TestDisabledClassifier(t *testing.T) {
	c := NewClassifier(false)
	assert.False(t, c.Enabled())
	assert.Nil(t, c.Classify("Big SALE", "50% off", "deals@mailchimp.com"))

	var nilClassifier *Classifier
	assert.Nil(t, nilClassifier.Classify("Big SALE", "", ""))
}
