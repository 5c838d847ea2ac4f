package notionsync

import (
	"time"

	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the Notion transactions database.
const (
	PropertyName          = "Name"
	PropertyAmount        = "Amount"
	PropertyDate          = "Date"
	PropertyCategory      = "Category"
	PropertyType          = "Type"
	PropertyAccount       = "Account"
	PropertyTransactionID = "Transaction ID"
)

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{
				Content: content,
			},
		},
	}
}

// TransactionToNotionProperties converts a transaction to Notion properties.
// The description is the page title; the transaction id is stored as rich
// text so later syncs can find the page again.
func TransactionToNotionProperties(tx *domain.Transaction) notionapi.Properties {
	amount, _ := tx.Amount.Float64()
	date := notionapi.Date(time.Date(
		tx.Timestamp.Year(),
		tx.Timestamp.Month(),
		tx.Timestamp.Day(),
		0, 0, 0, 0, time.UTC,
	))

	props := notionapi.Properties{
		PropertyName: notionapi.TitleProperty{
			Title: richText(tx.Description),
		},
		PropertyAmount: notionapi.NumberProperty{
			Number: amount,
		},
		PropertyDate: notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &date},
		},
		PropertyCategory: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.Category)},
		},
		PropertyTransactionID: notionapi.RichTextProperty{
			RichText: richText(tx.TransactionID),
		},
	}

	if tx.Type != "" {
		props[PropertyType] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.Type)},
		}
	}

	if tx.AccountNumber != "" {
		props[PropertyAccount] = notionapi.RichTextProperty{
			RichText: richText(tx.AccountNumber),
		}
	}

	return props
}

// extractTransactionID extracts the transaction ID from a Notion page's properties.
func extractTransactionID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropertyTransactionID]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok && len(rt.RichText) > 0 {
			return rt.RichText[0].PlainText
		}
	}
	return ""
}

// extractCategory returns the selected category of a page, or "".
func extractCategory(page notionapi.Page) string {
	if prop, ok := page.Properties[PropertyCategory]; ok {
		if sel, ok := prop.(*notionapi.SelectProperty); ok {
			return sel.Select.Name
		}
	}
	return ""
}
