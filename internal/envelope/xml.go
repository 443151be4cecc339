package envelope

import (
	"encoding/xml"
	"strings"
)

// Nested markup shapes. Every field is optional: a missing element decodes
// to its zero value and never fails the message. Only structurally
// unparsable fragments produce a DecodeError.

type appMessageXML struct {
	XMLName xml.Name   `xml:"msg"`
	App     appMsgBody `xml:"appmsg"`
	Info    appInfoXML `xml:"appinfo"`
}

type appMsgBody struct {
	AppID       string        `xml:"appid,attr"`
	Type        int           `xml:"type"`
	Title       string        `xml:"title"`
	Description string        `xml:"des"`
	URL         string        `xml:"url"`
	Refer       *referMsgXML  `xml:"refermsg"`
	Attach      *appAttachXML `xml:"appattach"`
}

type appInfoXML struct {
	AppName string `xml:"appname"`
	Version string `xml:"version"`
}

type appAttachXML struct {
	AttachID    string `xml:"attachid"`
	FileExt     string `xml:"fileext"`
	ThumbURL    string `xml:"cdnthumburl"`
	ThumbMD5    string `xml:"cdnthumbmd5"`
	ThumbLength int64  `xml:"cdnthumblength"`
	ThumbWidth  int    `xml:"cdnthumbwidth"`
	ThumbHeight int    `xml:"cdnthumbheight"`
	AesKey      string `xml:"aeskey"`
}

type referMsgXML struct {
	Type        int    `xml:"type"`
	SvrID       int64  `xml:"svrid"`
	FromUser    string `xml:"fromusr"`
	ChatUser    string `xml:"chatusr"`
	DisplayName string `xml:"displayname"`
	Content     string `xml:"content"`
	CreateTime  int64  `xml:"createtime"`
}

type imageMsgXML struct {
	XMLName xml.Name `xml:"msg"`
	Img     struct {
		AesKey       string `xml:"aeskey,attr"`
		CdnMidImgURL string `xml:"cdnmidimgurl,attr"`
		Length       int64  `xml:"length,attr"`
		MD5          string `xml:"md5,attr"`
	} `xml:"img"`
}

type voiceMsgXML struct {
	XMLName xml.Name `xml:"msg"`
	Voice   struct {
		VoiceURL string `xml:"voiceurl,attr"`
		Length   int64  `xml:"length,attr"`
	} `xml:"voicemsg"`
}

type sysMsgXML struct {
	XMLName xml.Name   `xml:"sysmsg"`
	Type    string     `xml:"type,attr"`
	Pat     *patMsgXML `xml:"pat"`
}

type patMsgXML struct {
	FromUser   string `xml:"fromusername"`
	PattedUser string `xml:"pattedusername"`
	Suffix     string `xml:"patsuffix"`
}

type msgSourceXML struct {
	XMLName    xml.Name `xml:"msgsource"`
	AtUserList string   `xml:"atuserlist"`
}

// appResult is the outcome of decoding an app (discriminator 49) fragment.
// Skip marks inner types the core deliberately ignores, e.g. a file still
// uploading.
type appResult struct {
	Kind  Kind
	Text  string
	Quote *QuotePayload
	Link  *LinkPayload
	File  *FilePayload
	Skip  bool
}

// decodeApp selects the per-inner-type decoder for an app message fragment.
func decodeApp(fragment string) (appResult, error) {
	var doc appMessageXML
	if err := xml.Unmarshal([]byte(fragment), &doc); err != nil {
		return appResult{}, decodeErrorf(fragment, "app message markup", err)
	}
	switch doc.App.Type {
	case appTypeQuote:
		quote, err := decodeQuote(doc)
		if err != nil {
			return appResult{}, err
		}
		return appResult{Kind: KindQuote, Text: quote.CurrentText, Quote: quote}, nil
	case appTypeLink, appTypeLinkAlt:
		link := decodeLink(doc)
		return appResult{Kind: KindLink, Text: link.Summary(), Link: link}, nil
	case appTypeFile:
		return appResult{
			Kind: KindFile,
			Text: doc.App.Title,
			File: decodeFile(doc),
		}, nil
	case appTypeFileUploading:
		return appResult{Skip: true}, nil
	default:
		return appResult{Kind: KindUnknown, Text: doc.App.Title}, nil
	}
}

// decodeQuote builds a QuotePayload from a decoded app document. The quoted
// content is re-decoded by its own kind, so quotes of links, images, and
// quotes are representable to arbitrary depth.
func decodeQuote(doc appMessageXML) (*QuotePayload, error) {
	refer := doc.App.Refer
	if refer == nil {
		return nil, decodeErrorf(doc.App.Title, "quote message missing refermsg", nil)
	}
	quote := &QuotePayload{
		QuotedMessageID: refer.SvrID,
		QuotedSenderID:  refer.ChatUser,
		QuotedNickname:  refer.DisplayName,
		QuotedContent:   refer.Content,
		CurrentText:     doc.App.Title,
	}
	switch refer.Type {
	case DiscriminatorText:
		quote.QuotedKind = KindText
	case DiscriminatorImage:
		quote.QuotedKind = KindImage
		media, err := decodeImage(refer.Content)
		if err != nil {
			return nil, err
		}
		quote.Media = media
	case DiscriminatorApp:
		inner, err := decodeApp(refer.Content)
		if err != nil {
			return nil, err
		}
		quote.QuotedKind = inner.Kind
		quote.QuotedContent = inner.Text
		quote.Link = inner.Link
		quote.Quote = inner.Quote
	default:
		quote.QuotedKind = KindUnknown
	}
	return quote, nil
}

func decodeLink(doc appMessageXML) *LinkPayload {
	link := &LinkPayload{
		Title:       doc.App.Title,
		Description: doc.App.Description,
		URL:         doc.App.URL,
		AppID:       doc.App.AppID,
		AppName:     doc.Info.AppName,
	}
	if attach := doc.App.Attach; attach != nil && attach.ThumbURL != "" {
		link.Thumbnail = &Thumbnail{
			URL:    attach.ThumbURL,
			MD5:    attach.ThumbMD5,
			Length: attach.ThumbLength,
			Width:  attach.ThumbWidth,
			Height: attach.ThumbHeight,
			AesKey: attach.AesKey,
		}
	}
	if strings.TrimSpace(link.AppName) == "" {
		link.AppName = inferAppName(link.URL)
	}
	return link
}

// Summary renders the readable link description used as message text.
func (l LinkPayload) Summary() string {
	return "title: " + l.Title + "\ndescription: " + l.Description + "\nurl: " + l.URL
}

// appNameRules maps known host patterns to the application name the source
// field omits. This is a fixed rule table, not a heuristic.
var appNameRules = []struct {
	substr string
	name   string
}{
	{"xiaohongshu.com/discovery/item/", "小红书"},
	{"xiaohongshu.com/explore/", "小红书"},
	{"xhslink.com/", "小红书"},
}

func inferAppName(url string) string {
	for _, rule := range appNameRules {
		if strings.Contains(url, rule.substr) {
			return rule.name
		}
	}
	return ""
}

func decodeFile(doc appMessageXML) *FilePayload {
	file := &FilePayload{Name: doc.App.Title}
	if attach := doc.App.Attach; attach != nil {
		file.Ext = attach.FileExt
		file.AttachID = attach.AttachID
	}
	return file
}

func decodeImage(fragment string) (*MediaRef, error) {
	var doc imageMsgXML
	if err := xml.Unmarshal([]byte(fragment), &doc); err != nil {
		return nil, decodeErrorf(fragment, "image markup", err)
	}
	return &MediaRef{
		AesKey: doc.Img.AesKey,
		URL:    doc.Img.CdnMidImgURL,
		Length: doc.Img.Length,
		MD5:    doc.Img.MD5,
	}, nil
}

func decodeVoice(fragment string) (*MediaRef, error) {
	var doc voiceMsgXML
	if err := xml.Unmarshal([]byte(fragment), &doc); err != nil {
		return nil, decodeErrorf(fragment, "voice markup", err)
	}
	return &MediaRef{URL: doc.Voice.VoiceURL, Length: doc.Voice.Length}, nil
}

// decodeSystem classifies a system notice fragment. Pat notices get a typed
// payload; everything else keeps the raw fragment under its type tag.
func decodeSystem(fragment string) (string, *PatPayload, error) {
	var doc sysMsgXML
	if err := xml.Unmarshal([]byte(fragment), &doc); err != nil {
		return "", nil, decodeErrorf(fragment, "system markup", err)
	}
	if doc.Type == "pat" {
		if doc.Pat == nil {
			return "", nil, decodeErrorf(fragment, "pat notice missing pat element", nil)
		}
		return doc.Type, &PatPayload{
			FromUser:   doc.Pat.FromUser,
			PattedUser: doc.Pat.PattedUser,
			Suffix:     doc.Pat.Suffix,
		}, nil
	}
	return doc.Type, nil, nil
}

// decodeMentions extracts the explicit addressed-users list from the
// structured metadata field. An absent or empty list is not an error.
func decodeMentions(msgSource string) ([]string, error) {
	if strings.TrimSpace(msgSource) == "" {
		return nil, nil
	}
	var doc msgSourceXML
	if err := xml.Unmarshal([]byte(msgSource), &doc); err != nil {
		return nil, decodeErrorf(msgSource, "message source markup", err)
	}
	raw := strings.Trim(doc.AtUserList, ",")
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	mentions := make([]string, 0, len(parts))
	for _, part := range parts {
		if id := strings.TrimSpace(part); id != "" {
			mentions = append(mentions, id)
		}
	}
	return mentions, nil
}
